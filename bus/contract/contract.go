// Package contract описывает контракты событий — интерфейсы, которые реализуют
// объекты-события, — и иерархию наследования между ними. Иерархия задается
// явно один раз при старте, поэтому проверки вида "является ли A предком C"
// выполняются обходом записанных ребер, без повторной рефлексии на каждом
// событии.
package contract

import (
	"errors"
	"fmt"

	"github.com/goccy/go-reflect"
)

var (
	// ErrNotInterface возвращается, если в качестве контракта передан тип,
	// не являющийся интерфейсом.
	ErrNotInterface = errors.New("контракт должен быть интерфейсом")

	// ErrNotEmbedded возвращается, если дочерний контракт не реализует
	// указанный родительский.
	ErrNotEmbedded = errors.New("дочерний контракт не встраивает родительский")

	// ErrCycle возвращается при попытке создать цикл в иерархии.
	ErrCycle = errors.New("цикл в иерархии контрактов")

	// ErrZeroContract возвращается для пустого значения Contract.
	ErrZeroContract = errors.New("пустой контракт")
)

// Contract идентифицирует контракт события. Идентичность определяется
// типом интерфейса, а не его именем: два разных интерфейса с одинаковым
// именем из разных пакетов — это разные контракты.
//
// Значение сравнимо и может использоваться как ключ map.
type Contract struct {
	typ reflect.Type
	// name всегда выводится из typ и нужен только для сообщений.
	name string
}

// Of возвращает контракт для интерфейса T.
// Паникует, если T не является интерфейсом: это ошибка в коде вызывающей
// стороны, а не условие времени выполнения.
func Of[T any]() Contract {
	c, err := FromType(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		panic(err)
	}
	return c
}

// FromType создает контракт из произвольного типа интерфейса.
func FromType(t reflect.Type) (Contract, error) {
	if t == nil {
		return Contract{}, ErrZeroContract
	}
	if t.Kind() != reflect.Interface {
		return Contract{}, fmt.Errorf("%w: %s", ErrNotInterface, t.String())
	}
	return Contract{typ: t, name: t.String()}, nil
}

// Type возвращает тип интерфейса контракта.
func (c Contract) Type() reflect.Type {
	return c.typ
}

// IsZero сообщает, является ли значение пустым.
func (c Contract) IsZero() bool {
	return c.typ == nil
}

// Name возвращает полное имя интерфейса (с именем пакета).
func (c Contract) Name() string {
	if c.typ == nil {
		return "<nil>"
	}
	return c.name
}

// String реализует fmt.Stringer.
func (c Contract) String() string {
	return c.Name()
}

// ImplementedBy сообщает, реализует ли тип t данный контракт.
func (c Contract) ImplementedBy(t reflect.Type) bool {
	if c.typ == nil || t == nil {
		return false
	}
	return t.Implements(c.typ)
}
