// Package invoke вызывает разрешенный обработчик получателя: определяет
// контракты события, выбирает метод через resolve.Resolver, связывает его
// параметры и выполняет вызов через рефлексию.
//
// Отсутствие обработчика, ошибка связывания, ошибка или паника метода не
// покидают Invoke: они возвращаются как исход в Result. Наружу как ошибка
// выходит только неоднозначность объявлений.
package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/goccy/go-reflect"

	"github.com/x-research-team/dtx-dispatch/bus/contract"
	"github.com/x-research-team/dtx-dispatch/bus/resolve"
)

// Invoker доставляет событие одному получателю.
type Invoker interface {
	// Invoke выбирает обработчик получателя для события и вызывает его.
	// Ошибка возвращается только для неоднозначных объявлений; все прочие
	// сбои содержатся в Result.
	Invoke(ctx context.Context, receiver, event, sender any) (Result, error)
}

// InvokerFunc позволяет использовать функцию как Invoker.
type InvokerFunc func(ctx context.Context, receiver, event, sender any) (Result, error)

// Invoke реализует Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, receiver, event, sender any) (Result, error) {
	return f(ctx, receiver, event, sender)
}

// New создает Invoker поверх резолвера. Логирование, метрики и трассировка
// подключаются как middleware в зависимости от переданных опций.
func New(resolver *resolve.Resolver, opts ...Option) (Invoker, error) {
	if resolver == nil {
		return nil, ErrNilResolver
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	base := &localInvoker{
		resolver:  resolver,
		hierarchy: resolver.Hierarchy(),
		provider:  cfg.provider,
		logger:    cfg.logger,
	}
	if base.provider == nil {
		base.provider = noopProvider{}
	}
	if base.logger == nil {
		base.logger = slog.Default()
	}

	all := []Middleware{
		NewLoggingMiddleware(cfg.logger),
		NewMetricsMiddleware(cfg.meterProvider),
		NewTracingMiddleware(cfg.tracerProvider, cfg.propagator),
	}
	all = append(all, cfg.middlewares...)

	return applyMiddlewares(base, all...), nil
}

// localInvoker выполняет вызов в текущей горутине.
type localInvoker struct {
	resolver  *resolve.Resolver
	hierarchy *contract.Hierarchy
	provider  ValueProvider
	logger    *slog.Logger
}

// Invoke реализует Invoker.
func (i *localInvoker) Invoke(ctx context.Context, receiver, event, sender any) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if receiver == nil || event == nil {
		return Result{Outcome: NotHandled}, nil
	}

	d, err := i.find(reflect.TypeOf(receiver), reflect.TypeOf(event))
	if err != nil {
		return Result{Outcome: Failure, Err: err}, err
	}
	if d == nil {
		return Result{Outcome: NotHandled}, nil
	}

	res := i.call(ctx, d, receiver, event, sender)
	if res.Outcome == Failure && res.Err != nil {
		i.logger.Error("ошибка вызова обработчика",
			slog.String("receiver_type", d.ReceiverType.String()),
			slog.String("method", d.MethodName()),
			slog.String("contract", d.HandledContract.Name()),
			slog.Any("error", res.Err),
		)
	}
	return res, nil
}

// find перебирает контракты события от самого производного и возвращает
// первый найденный обработчик. Неоднозначность прерывает перебор без
// перехода к менее специфичному контракту.
func (i *localInvoker) find(receiverType, eventType reflect.Type) (*resolve.Descriptor, error) {
	for _, c := range i.hierarchy.ContractsOf(eventType) {
		d, err := i.resolver.Resolve(receiverType, c)
		if err != nil {
			return nil, err
		}
		if d != nil && d.Valid {
			return d, nil
		}
	}
	return nil, nil
}

func (i *localInvoker) call(ctx context.Context, d *resolve.Descriptor, receiver, event, sender any) (res Result) {
	args, err := newBinding(ctx, event, sender, i.provider).args(d)
	if err != nil {
		return Result{Outcome: Failure, Err: err, Handler: d}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Outcome: Failure,
				Err:     &PanicError{Method: d.MethodName(), Value: r, Stack: debug.Stack()},
				Handler: d,
			}
		}
	}()

	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, reflect.ValueOf(receiver))
	in = append(in, args...)

	return interpret(d, d.Method.Func.Call(in))
}

// interpret превращает возвращенные методом значения в Result.
func interpret(d *resolve.Descriptor, out []reflect.Value) Result {
	var (
		value    any
		hasValue bool
	)
	last := len(out) - 1
	for idx, o := range out {
		ot := d.Method.Type.Out(idx)
		if ot == errorType || (idx == last && ot.Implements(errorType)) {
			if !nillable(ot) || !o.IsNil() {
				return Result{Outcome: Failure, Err: o.Interface().(error), Handler: d}
			}
			continue
		}
		if !hasValue {
			value, hasValue = o.Interface(), true
		}
	}

	switch s := value.(type) {
	case Status:
		return fromStatus(d, s)
	case *Status:
		if s != nil {
			return fromStatus(d, *s)
		}
		return Result{Outcome: Success, Handler: d}
	case Outcome:
		return Result{Outcome: s, Handler: d}
	}
	return Result{Outcome: Success, Value: value, Handler: d}
}

func fromStatus(d *resolve.Descriptor, s Status) Result {
	res := Result{Outcome: s.Outcome, Value: s.Value, Handler: d, StopPropagation: s.StopPropagation}
	if s.Outcome == Failure {
		res.Err = fmt.Errorf("обработчик %s вернул статус %s", d.MethodName(), s.Outcome)
	}
	return res
}
