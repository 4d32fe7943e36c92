// Package chain рассылает событие упорядоченному списку получателей.
//
// Получатели обходятся по возрастанию приоритета, при равном приоритете в
// порядке регистрации. Для каждого вызывается invoke.Invoker. Получатель без
// обработчика пропускается, сбой одного получателя не мешает доставке
// остальным. Рассылку прерывают только статус со StopPropagation и
// неоднозначность объявлений.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-reflect"
	"github.com/google/uuid"

	"github.com/x-research-team/dtx-dispatch/bus/invoke"
	"github.com/x-research-team/dtx-dispatch/bus/resolve"
)

var (
	// ErrNilReceiver возвращается при регистрации nil-получателя.
	ErrNilReceiver = errors.New("получатель не задан")
	// ErrNilInvoker возвращается, если цепочке не передан инвокер.
	ErrNilInvoker = errors.New("инвокер не задан")
	// ErrMaxRecursion возвращается, если обработчики вложили рассылки глубже
	// допустимого.
	ErrMaxRecursion = errors.New("превышена глубина вложенных рассылок")
)

// Priority определяет порядок доставки. Меньшее значение доставляется раньше.
type Priority int

// entry — зарегистрированный получатель.
type entry struct {
	id       uuid.UUID
	receiver any
	priority Priority
}

// Delivery — результат доставки события одному получателю.
type Delivery struct {
	EntryID  uuid.UUID
	Receiver any
	Priority Priority
	Outcome  invoke.Outcome
	Value    any
	Err      error
	Handler  *resolve.Descriptor
}

// Chain — упорядоченный по приоритету список получателей.
// Безопасна для одновременного использования.
type Chain struct {
	name    string
	invoker invoke.Invoker
	cfg     config
	logger  *slog.Logger

	mu      sync.RWMutex
	entries []*entry
}

// New создает пустую цепочку.
func New(invoker invoke.Invoker, opts ...Option) (*Chain, error) {
	return newChain("", invoker, opts...)
}

func newChain(name string, invoker invoke.Invoker, opts ...Option) (*Chain, error) {
	if invoker == nil {
		return nil, ErrNilInvoker
	}

	cfg := config{
		defaultPriority: DefaultPriority,
		maxRecursion:    DefaultMaxRecursion,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if name != "" {
		logger = logger.With(slog.String("chain", name))
	}

	return &Chain{
		name:    name,
		invoker: invoker,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Name возвращает имя цепочки в реестре. Пусто для цепочек, созданных New.
func (c *Chain) Name() string {
	return c.name
}

// Register добавляет получателя. Один и тот же получатель можно
// зарегистрировать несколько раз; каждая регистрация получает событие.
// Возвращаемая функция удаляет именно эту регистрацию.
func (c *Chain) Register(receiver any, opts ...RegisterOption) (deregister func(), err error) {
	if isNil(receiver) {
		return nil, ErrNilReceiver
	}

	reg := registration{priority: c.cfg.defaultPriority}
	for _, opt := range opts {
		opt(&reg)
	}

	e := &entry{id: uuid.New(), receiver: receiver, priority: reg.priority}

	c.mu.Lock()
	// Вставка после всех записей с приоритетом <= p сохраняет порядок регистрации.
	pos := len(c.entries)
	for i, existing := range c.entries {
		if existing.priority > e.priority {
			pos = i
			break
		}
	}
	c.entries = append(c.entries, nil)
	copy(c.entries[pos+1:], c.entries[pos:])
	c.entries[pos] = e
	c.mu.Unlock()

	c.logger.Debug("получатель зарегистрирован",
		slog.String("entry_id", e.id.String()),
		slog.String("receiver_type", fmt.Sprintf("%T", receiver)),
		slog.Int("priority", int(e.priority)),
	)

	return func() { c.remove(e.id) }, nil
}

func (c *Chain) remove(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.id == id {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
			return
		}
	}
}

// Deregister удаляет все регистрации получателя. Возвращает false, если
// получатель не был зарегистрирован.
func (c *Chain) Deregister(receiver any) bool {
	if isNil(receiver) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if !sameReceiver(e.receiver, receiver) {
			kept = append(kept, e)
		}
	}
	removed := len(kept) != len(c.entries)
	c.entries = kept
	return removed
}

// Clear удаляет все регистрации.
func (c *Chain) Clear() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

// Len возвращает число регистраций.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Receivers возвращает получателей в порядке доставки.
func (c *Chain) Receivers() []any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]any, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.receiver
	}
	return out
}

// Invoke рассылает событие всем получателям и возвращает результаты
// доставки в порядке обхода, включая NotHandled.
//
// Рассылка идет по снимку регистраций: получатели, добавленные или
// удаленные обработчиками во время рассылки, учитываются со следующего
// вызова. Ошибка возвращается при неоднозначности объявлений (вместе с
// уже выполненными доставками) и при превышении глубины вложенных рассылок.
func (c *Chain) Invoke(ctx context.Context, event, sender any) ([]Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	depth := depthFrom(ctx)
	if depth >= c.cfg.maxRecursion {
		c.logger.Error("превышена глубина вложенных рассылок",
			slog.String("event_type", fmt.Sprintf("%T", event)),
			slog.Int("depth", depth),
		)
		return nil, fmt.Errorf("%w: %d", ErrMaxRecursion, depth)
	}
	ctx = withDepth(ctx, depth+1)

	c.mu.RLock()
	snapshot := make([]*entry, len(c.entries))
	copy(snapshot, c.entries)
	c.mu.RUnlock()

	startTime := time.Now()
	deliveries := make([]Delivery, 0, len(snapshot))
	for _, e := range snapshot {
		res, err := c.invoker.Invoke(ctx, e.receiver, event, sender)
		deliveries = append(deliveries, Delivery{
			EntryID:  e.id,
			Receiver: e.receiver,
			Priority: e.priority,
			Outcome:  res.Outcome,
			Value:    res.Value,
			Err:      res.Err,
			Handler:  res.Handler,
		})
		if err != nil {
			return deliveries, err
		}
		if res.StopPropagation {
			c.logger.Debug("рассылка остановлена получателем",
				slog.String("entry_id", e.id.String()),
				slog.String("event_type", fmt.Sprintf("%T", event)),
			)
			break
		}
	}

	c.logger.Debug("событие разослано",
		slog.String("event_type", fmt.Sprintf("%T", event)),
		slog.Int("receivers", len(snapshot)),
		slog.Int("delivered", len(deliveries)),
		slog.Duration("duration", time.Since(startTime)),
	)
	return deliveries, nil
}

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// sameReceiver сравнивает получателей по идентичности. Значения
// несравнимых типов совпадают, только если указывают на одни данные.
func sameReceiver(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	// Comparable проверяет динамические значения: структура с полем any,
	// хранящим срез, сравнима по типу, но == на ней паникует.
	if reflect.ToReflectValue(va).Comparable() && reflect.ToReflectValue(vb).Comparable() {
		return a == b
	}
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		return va.Pointer() == vb.Pointer()
	default:
		return false
	}
}
