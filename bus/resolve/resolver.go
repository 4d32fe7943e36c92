// Package resolve выбирает метод-обработчик получателя для контракта события.
//
// Кандидаты ранжируются по специфичности: метод, объявленный для самого
// запрошенного контракта, важнее метода, объявленного для предка; ближний
// предок важнее дальнего. Несколько кандидатов на верхнем ранге означают
// неоднозначность, которая возвращается как ошибка.
package resolve

import (
	"errors"
	"log/slog"

	"github.com/goccy/go-reflect"
	"golang.org/x/sync/singleflight"

	"github.com/x-research-team/dtx-dispatch/bus/contract"
	"github.com/x-research-team/dtx-dispatch/bus/declare"
)

var (
	// ErrNilReceiverType возвращается при разрешении для nil-типа.
	ErrNilReceiverType = errors.New("тип получателя не задан")
	// ErrNilCatalog возвращается, если резолверу не передан каталог объявлений.
	ErrNilCatalog = errors.New("каталог объявлений не задан")
	// ErrNilHierarchy возвращается, если резолверу не передана иерархия контрактов.
	ErrNilHierarchy = errors.New("иерархия контрактов не задана")
)

// Resolver разрешает обработчики и кеширует результат.
// Безопасен для одновременного использования.
type Resolver struct {
	catalog   *declare.Catalog
	hierarchy *contract.Hierarchy
	cache     *Cache
	logger    *slog.Logger
	// group объединяет одновременные вычисления одного ключа.
	group singleflight.Group
}

// Option настраивает Resolver.
type Option func(*Resolver)

// WithCache задает кеш разрешения. По умолчанию каждый резолвер создает
// собственный кеш.
func WithCache(cache *Cache) Option {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithLogger задает логгер для отладочных сообщений о разрешении.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New создает резолвер поверх каталога объявлений и иерархии контрактов.
func New(catalog *declare.Catalog, hierarchy *contract.Hierarchy, opts ...Option) (*Resolver, error) {
	if catalog == nil {
		return nil, ErrNilCatalog
	}
	if hierarchy == nil {
		return nil, ErrNilHierarchy
	}

	r := &Resolver{
		catalog:   catalog,
		hierarchy: hierarchy,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewCache()
	}
	return r, nil
}

// Hierarchy возвращает иерархию контрактов резолвера.
func (r *Resolver) Hierarchy() *contract.Hierarchy {
	return r.hierarchy
}

// Cache возвращает кеш разрешения.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve выбирает обработчик контракта requested на типе получателя.
//
// Возможные исходы:
//   - (descriptor, nil) — найден единственный лучший метод;
//   - (nil, nil) — обработчика нет, это штатный исход;
//   - (nil, *AmbiguousHandlerError) — несколько равноправных кандидатов.
//
// Все три исхода кешируются по паре (тип, контракт).
func (r *Resolver) Resolve(receiverType reflect.Type, requested contract.Contract) (*Descriptor, error) {
	if receiverType == nil {
		return nil, ErrNilReceiverType
	}

	key := cacheKey{receiver: receiverType, contract: requested}
	if e, ok := r.cache.load(key); ok {
		return e.descriptor, e.err
	}

	v, _, _ := r.group.Do(key.String(), func() (any, error) {
		if e, ok := r.cache.load(key); ok {
			return e, nil
		}
		e := r.cache.store(key, r.compute(receiverType, requested))
		r.logOutcome(receiverType, requested, e)
		return e, nil
	})
	e := v.(entry)
	return e.descriptor, e.err
}

func (r *Resolver) logOutcome(receiverType reflect.Type, requested contract.Contract, e entry) {
	if r.logger == nil {
		return
	}
	switch {
	case e.err != nil:
		r.logger.Debug("неоднозначный обработчик",
			slog.String("receiver_type", receiverType.String()),
			slog.String("contract", requested.Name()),
			slog.Any("error", e.err),
		)
	case e.descriptor != nil:
		r.logger.Debug("обработчик разрешен",
			slog.String("receiver_type", receiverType.String()),
			slog.String("contract", requested.Name()),
			slog.String("method", e.descriptor.MethodName()),
			slog.String("handled_contract", e.descriptor.HandledContract.Name()),
		)
	}
}

// candidate — метод, подходящий для запрошенного контракта.
type candidate struct {
	table    *declare.MethodTable
	decl     *declare.HandlerDeclaration
	handled  contract.Contract
	distance int
}

func (r *Resolver) compute(receiverType reflect.Type, requested contract.Contract) entry {
	scan := r.catalog.Scan(receiverType)

	var candidates []candidate
	for _, m := range scan.Methods {
		candidates = append(candidates, r.methodCandidates(m, requested)...)
	}
	if len(candidates) == 0 {
		return entry{}
	}

	top := closest(candidates)
	if len(top) > 1 {
		methods := make([]string, len(top))
		for i, c := range top {
			methods[i] = c.table.Name
		}
		return entry{err: &AmbiguousHandlerError{
			ReceiverType: receiverType,
			Contract:     requested,
			Methods:      methods,
		}}
	}

	best := top[0]
	return entry{descriptor: &Descriptor{
		ReceiverType:      receiverType,
		Method:            best.table.Method,
		RequestedContract: requested,
		HandledContract:   best.handled,
		Declaration:       best.decl,
		Distance:          best.distance,
		Valid:             true,
		table:             best.table,
	}}
}

// methodCandidates возвращает кандидатов одного метода. Метод, подходящий по
// нескольким объявлениям, дает одного кандидата с наименьшим расстоянием.
// Исключение — одинаковый явный контракт, объявленный на методе несколько
// раз: каждое такое объявление остается отдельным кандидатом.
func (r *Resolver) methodCandidates(m *declare.MethodTable, requested contract.Contract) []candidate {
	var found []candidate

	if len(m.Handlers) == 0 {
		if c, dist, ok := r.inferFromParams(m, requested, m.ImplicitEventParams()); ok {
			found = append(found, candidate{table: m, handled: c, distance: dist})
		}
		return found
	}

	for i := range m.Handlers {
		decl := &m.Handlers[i]
		if decl.Contract != nil {
			if dist, ok := r.hierarchy.Distance(requested, *decl.Contract); ok {
				found = append(found, candidate{table: m, decl: decl, handled: *decl.Contract, distance: dist})
			}
			continue
		}

		positions := m.ImplicitEventParams()
		if len(positions) == 0 {
			positions = allPositions(m.NumParams())
		}
		if c, dist, ok := r.inferFromParams(m, requested, positions); ok {
			found = append(found, candidate{table: m, decl: decl, handled: c, distance: dist})
		}
	}

	if len(found) <= 1 {
		return found
	}

	top := closest(found)
	counts := make(map[contract.Contract]int, len(top))
	for _, c := range top {
		if c.decl != nil && c.decl.Explicit() {
			counts[c.handled]++
		}
	}
	var duplicates []candidate
	for _, c := range top {
		if c.decl != nil && c.decl.Explicit() && counts[c.handled] > 1 {
			duplicates = append(duplicates, c)
		}
	}
	if len(duplicates) > 0 {
		return duplicates
	}
	return top[:1]
}

// inferFromParams выводит контракт из типов параметров на позициях positions:
// выбирается параметр, тип которого является запрошенным контрактом или
// ближайшим его предком.
func (r *Resolver) inferFromParams(m *declare.MethodTable, requested contract.Contract, positions []int) (contract.Contract, int, bool) {
	var (
		best     contract.Contract
		bestDist int
		found    bool
	)
	for _, pos := range positions {
		c, ok := r.hierarchy.Lookup(m.ParamType(pos))
		if !ok {
			continue
		}
		dist, ok := r.hierarchy.Distance(requested, c)
		if !ok {
			continue
		}
		if !found || dist < bestDist {
			best, bestDist, found = c, dist, true
		}
	}
	return best, bestDist, found
}

// closest возвращает кандидатов с наименьшим расстоянием в исходном порядке.
func closest(candidates []candidate) []candidate {
	shortest := candidates[0].distance
	for _, c := range candidates[1:] {
		if c.distance < shortest {
			shortest = c.distance
		}
	}
	top := make([]candidate, 0, 1)
	for _, c := range candidates {
		if c.distance == shortest {
			top = append(top, c)
		}
	}
	return top
}

func allPositions(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
