package invoke

import (
	"errors"
	"fmt"

	"github.com/goccy/go-reflect"
)

var (
	// ErrBinding — базовая ошибка связывания параметра.
	ErrBinding = errors.New("не удалось связать параметр обработчика")
	// ErrHandlerPanic — базовая ошибка паники в обработчике.
	ErrHandlerPanic = errors.New("паника в обработчике")
	// ErrNilResolver возвращается, если инвокеру не передан резолвер.
	ErrNilResolver = errors.New("резолвер не задан")
)

// BindingError описывает обязательный параметр, значение которого не
// удалось получить. Метод при этом не вызывается.
type BindingError struct {
	Method string
	Index  int
	Name   string
	Type   reflect.Type
	// Reason уточняет причину.
	Reason string
}

// Error реализует интерфейс error.
func (e *BindingError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("#%d", e.Index)
	}
	return fmt.Sprintf("%s: метод %s, параметр %s (%s): %s", ErrBinding, e.Method, name, typeName(e.Type), e.Reason)
}

// Is позволяет сопоставить ошибку с ErrBinding.
func (e *BindingError) Is(target error) bool {
	return target == ErrBinding
}

// PanicError содержит значение паники обработчика и стек.
type PanicError struct {
	Method string
	Value  any
	Stack  []byte
}

// Error реализует интерфейс error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrHandlerPanic, e.Method, e.Value)
}

// Is позволяет сопоставить ошибку с ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

// Unwrap возвращает значение паники, если оно является ошибкой.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
