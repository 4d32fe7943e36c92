package declare

import (
	"sync"

	"github.com/goccy/go-reflect"
)

// MethodTable — объявления одного метода, привязанные к конкретному типу
// получателя.
type MethodTable struct {
	Name string
	// Method содержит функцию метода; первым аргументом она принимает
	// получателя.
	Method reflect.Method
	// Handlers — только включенные объявления.
	Handlers []HandlerDeclaration

	declared []ParameterDeclaration

	once   sync.Once
	params []ParameterDeclaration
}

// NumParams возвращает число формальных параметров без учета получателя.
func (m *MethodTable) NumParams() int {
	return m.Method.Type.NumIn() - 1
}

// ParamType возвращает тип параметра на позиции i (без учета получателя).
func (m *MethodTable) ParamType(i int) reflect.Type {
	return m.Method.Type.In(i + 1)
}

// ImplicitEventParams возвращает позиции параметров, помеченных как неявный
// параметр события, в порядке объявления.
func (m *MethodTable) ImplicitEventParams() []int {
	var out []int
	for _, p := range m.declared {
		if p.Source == ImplicitEventSource {
			out = append(out, p.Index)
		}
	}
	return out
}

// Params возвращает таблицу всех формальных параметров метода по позициям.
// Для позиций без объявления возвращается запись с Declared = false.
//
// Таблица строится при первом обращении, то есть только для методов,
// которые действительно были выбраны обработчиками.
func (m *MethodTable) Params() []ParameterDeclaration {
	m.once.Do(func() {
		params := make([]ParameterDeclaration, m.NumParams())
		for i := range params {
			params[i] = ParameterDeclaration{Index: i, Required: true}
		}
		for _, p := range m.declared {
			params[p.Index] = p
		}
		m.params = params
	})
	return m.params
}
