package invoke

import (
	"github.com/goccy/go-reflect"
)

// ValueProvider — внешний источник значений для параметров, объявленных
// через declare.FromProvider. Реализацией может быть DI-контейнер или
// хранилище настроек.
type ValueProvider interface {
	// TryResolveByName возвращает значение с именем name, приводимое к типу
	// expected, либо false, если значения нет.
	TryResolveByName(name string, expected reflect.Type) (any, bool)
}

// ValueProviderFunc позволяет использовать функцию как ValueProvider.
type ValueProviderFunc func(name string, expected reflect.Type) (any, bool)

// TryResolveByName реализует ValueProvider.
func (f ValueProviderFunc) TryResolveByName(name string, expected reflect.Type) (any, bool) {
	return f(name, expected)
}

// MapProvider отдает значения из фиксированного набора. Значение
// возвращается, только если его тип совместим с ожидаемым.
type MapProvider map[string]any

// TryResolveByName реализует ValueProvider.
func (m MapProvider) TryResolveByName(name string, expected reflect.Type) (any, bool) {
	v, ok := m[name]
	if !ok {
		return nil, false
	}
	if v == nil {
		return nil, nillable(expected)
	}
	if expected != nil && !reflect.TypeOf(v).AssignableTo(expected) {
		return nil, false
	}
	return v, true
}

type noopProvider struct{}

func (noopProvider) TryResolveByName(string, reflect.Type) (any, bool) {
	return nil, false
}

func nillable(t reflect.Type) bool {
	if t == nil {
		return true
	}
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}
