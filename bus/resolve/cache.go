package resolve

import (
	"fmt"
	"sync"

	"github.com/goccy/go-reflect"

	"github.com/x-research-team/dtx-dispatch/bus/contract"
)

// cacheKey идентифицирует результат разрешения. Тип получателя сравнивается
// по идентичности, а не по имени.
type cacheKey struct {
	receiver reflect.Type
	contract contract.Contract
}

// String возвращает ключ для singleflight. Адреса дескрипторов типов
// уникальны, поэтому одноименные типы дают разные ключи.
func (k cacheKey) String() string {
	return fmt.Sprintf("%p|%p", k.receiver, k.contract.Type())
}

// entry — закешированный исход: дескриптор, отсутствие обработчика
// (descriptor == nil, err == nil) или неоднозначность.
type entry struct {
	descriptor *Descriptor
	err        error
}

// Cache хранит результаты разрешения обработчиков.
//
// Записи только добавляются и никогда не изменяются, поэтому читатели не
// могут увидеть частично построенный дескриптор. Если один кеш разделяют
// несколько резолверов, ключ может быть вычислен повторно, но в кеше
// останется первый записанный исход, и все вызывающие получат его.
type Cache struct {
	entries sync.Map
}

// NewCache создает пустой кеш разрешения.
func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) load(key cacheKey) (entry, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return entry{}, false
	}
	return v.(entry), true
}

// store записывает исход, если ключ еще не записан, и возвращает исход,
// который оказался в кеше.
func (c *Cache) store(key cacheKey, e entry) entry {
	actual, _ := c.entries.LoadOrStore(key, e)
	return actual.(entry)
}

// Len возвращает число закешированных исходов.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Clear удаляет все записи. Единственный способ инвалидации дескрипторов.
func (c *Cache) Clear() {
	c.entries.Clear()
}
