package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-reflect"

	"github.com/x-research-team/dtx-dispatch/bus/contract"
)

// ErrAmbiguousHandler — базовая ошибка неоднозначного выбора обработчика.
var ErrAmbiguousHandler = errors.New("неоднозначный обработчик")

// AmbiguousHandlerError возвращается, если для контракта на одном типе
// получателя нашлось несколько одинаково специфичных методов. Это дефект
// объявлений получателя, поэтому ошибка не повторяется и не подавляется.
type AmbiguousHandlerError struct {
	// ReceiverType — тип получателя.
	ReceiverType reflect.Type
	// Contract — запрошенный контракт.
	Contract contract.Contract
	// Methods — имена конкурирующих методов. Метод, объявивший один и тот же
	// контракт дважды, встречается в списке дважды.
	Methods []string
}

// Error реализует интерфейс error.
func (e *AmbiguousHandlerError) Error() string {
	return fmt.Sprintf("неоднозначный обработчик контракта %s на типе %s: %s",
		e.Contract, typeName(e.ReceiverType), strings.Join(e.Methods, ", "))
}

// Is позволяет сопоставить ошибку с ErrAmbiguousHandler через errors.Is.
func (e *AmbiguousHandlerError) Is(target error) bool {
	return target == ErrAmbiguousHandler
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
