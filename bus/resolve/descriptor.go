package resolve

import (
	"github.com/goccy/go-reflect"

	"github.com/x-research-team/dtx-dispatch/bus/contract"
	"github.com/x-research-team/dtx-dispatch/bus/declare"
)

// Descriptor — результат разрешения обработчика для пары
// (тип получателя, запрошенный контракт). Создается резолвером, кешируется
// и не изменяется после создания.
type Descriptor struct {
	ReceiverType reflect.Type
	// Method — выбранный метод. Method.Func привязан на этапе разрешения и
	// вызывается с получателем в качестве первого аргумента.
	Method reflect.Method
	// RequestedContract — контракт, для которого выполнялось разрешение.
	RequestedContract contract.Contract
	// HandledContract — фактически сопоставленный контракт: сам запрошенный,
	// его предок или контракт, выведенный из типа параметра.
	HandledContract contract.Contract
	// Declaration — объявление, по которому выбран метод. nil, если метод
	// выбран только по неявному параметру события.
	Declaration *declare.HandlerDeclaration
	// Distance — расстояние от запрошенного до сопоставленного контракта.
	Distance int
	Valid    bool

	table *declare.MethodTable
}

// MethodName возвращает имя выбранного метода.
func (d *Descriptor) MethodName() string {
	return d.Method.Name
}

// Explicit сообщает, был ли контракт объявлен на методе явно.
func (d *Descriptor) Explicit() bool {
	return d.Declaration != nil && d.Declaration.Explicit()
}

// Params возвращает таблицу параметров выбранного метода.
func (d *Descriptor) Params() []declare.ParameterDeclaration {
	if d.table == nil {
		return nil
	}
	return d.table.Params()
}

// ParamType возвращает тип параметра на позиции i (без учета получателя).
func (d *Descriptor) ParamType(i int) reflect.Type {
	return d.Method.Type.In(i + 1)
}

// NumParams возвращает число параметров без учета получателя.
func (d *Descriptor) NumParams() int {
	return d.Method.Type.NumIn() - 1
}
