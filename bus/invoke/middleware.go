package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-reflect"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/x-research-team/dtx-dispatch/bus/invoke"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "messaging."
)

// Middleware добавляет сквозную функциональность вокруг вызова обработчика.
type Middleware interface {
	// Wrap оборачивает следующий Invoker в цепочке.
	Wrap(next Invoker) Invoker
}

// MiddlewareFunc позволяет использовать функцию как Middleware.
type MiddlewareFunc func(next Invoker) Invoker

// Wrap реализует Middleware.
func (f MiddlewareFunc) Wrap(next Invoker) Invoker {
	return f(next)
}

// loggingMiddleware пишет в лог каждый вызов.
type loggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware создает middleware логирования.
// Для nil-логгера возвращается no-op middleware.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		return noopMiddleware{}
	}
	return &loggingMiddleware{logger: logger}
}

// Wrap реализует Middleware.
func (m *loggingMiddleware) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, receiver, event, sender any) (res Result, err error) {
		startTime := time.Now()
		defer func() {
			attrs := []any{
				slog.String("receiver_type", typeNameOf(receiver)),
				slog.String("event_type", typeNameOf(event)),
				slog.String("outcome", res.Outcome.String()),
				slog.Duration("duration", time.Since(startTime)),
			}
			if res.Handler != nil {
				attrs = append(attrs, slog.String("method", res.Handler.MethodName()))
			}
			switch {
			case err != nil:
				m.logger.Error("ошибка разрешения обработчика", append(attrs, slog.Any("error", err))...)
			case res.Outcome == NotHandled:
				m.logger.Debug("обработчик не найден", attrs...)
			default:
				m.logger.Debug("обработчик вызван", attrs...)
			}
		}()

		return next.Invoke(ctx, receiver, event, sender)
	})
}

// metricsMiddleware собирает метрики OpenTelemetry по вызовам.
type metricsMiddleware struct {
	invokeCounter      metric.Int64Counter
	invokeDurationHist metric.Float64Histogram
}

// NewMetricsMiddleware создает middleware метрик.
// Для nil-провайдера возвращается no-op middleware.
func NewMetricsMiddleware(provider metric.MeterProvider) Middleware {
	if provider == nil {
		return noopMiddleware{}
	}

	meter := provider.Meter(instrumentationName)

	invokeCounter, err := meter.Int64Counter(
		metricKeyPrefix+"invoke.count",
		metric.WithDescription("Количество вызовов обработчиков"),
		metric.WithUnit("{invocations}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик invoke.count: %v", err))
	}

	invokeDurationHist, err := meter.Float64Histogram(
		metricKeyPrefix+"invoke.duration",
		metric.WithDescription("Длительность вызова обработчика"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать гистограмму invoke.duration: %v", err))
	}

	return &metricsMiddleware{
		invokeCounter:      invokeCounter,
		invokeDurationHist: invokeDurationHist,
	}
}

// Wrap реализует Middleware.
func (m *metricsMiddleware) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, receiver, event, sender any) (Result, error) {
		startTime := time.Now()

		res, err := next.Invoke(ctx, receiver, event, sender)

		duration := float64(time.Since(startTime).Microseconds()) / 1000
		outcome := res.Outcome.String()
		if err != nil {
			outcome = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("receiver.type", typeNameOf(receiver)),
			attribute.String("event.type", typeNameOf(event)),
			attribute.String("outcome", outcome),
		)
		m.invokeCounter.Add(ctx, 1, attrs)
		m.invokeDurationHist.Record(ctx, duration, attrs)

		return res, err
	})
}

// metadatable — событие, переносящее метаданные трассировки.
type metadatable interface {
	Metadata() map[string]string
}

// tracingMiddleware создает спан на каждый вызов.
type tracingMiddleware struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingMiddleware создает middleware трассировки.
// Для nil-провайдера возвращается no-op middleware.
func NewTracingMiddleware(tp trace.TracerProvider, p propagation.TextMapPropagator) Middleware {
	if tp == nil {
		return noopMiddleware{}
	}
	if p == nil {
		p = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}
	return &tracingMiddleware{
		tracer: tp.Tracer(
			instrumentationName,
			trace.WithInstrumentationVersion(instrumentationVersion),
		),
		propagator: p,
	}
}

// Wrap реализует Middleware.
func (m *tracingMiddleware) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, receiver, event, sender any) (res Result, err error) {
		if md, ok := event.(metadatable); ok {
			ctx = m.propagator.Extract(ctx, propagation.MapCarrier(md.Metadata()))
		}

		eventType := typeNameOf(event)
		ctx, span := m.tracer.Start(ctx, eventType+" dispatch",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("receiver.type", typeNameOf(receiver)),
				attribute.String("event.type", eventType),
			),
		)
		defer func() {
			span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
			if res.Handler != nil {
				span.SetAttributes(attribute.String("handler.method", res.Handler.MethodName()))
			}
			if res.Err != nil {
				span.RecordError(res.Err)
				span.SetStatus(codes.Error, res.Err.Error())
			}
			span.End()
		}()

		return next.Invoke(ctx, receiver, event, sender)
	})
}

// applyMiddlewares оборачивает инвокер в обратном порядке, чтобы первый
// middleware выполнялся первым.
func applyMiddlewares(invoker Invoker, middlewares ...Middleware) Invoker {
	for i := len(middlewares) - 1; i >= 0; i-- {
		invoker = middlewares[i].Wrap(invoker)
	}
	return invoker
}

type noopMiddleware struct{}

func (noopMiddleware) Wrap(next Invoker) Invoker {
	return next
}

func typeNameOf(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
