package invoke

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// config содержит неэкспортируемую конфигурацию инвокера.
type config struct {
	logger         *slog.Logger
	provider       ValueProvider
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	middlewares    []Middleware
}

// Option изменяет конфигурацию инвокера.
type Option func(*config)

// WithLogger устанавливает логгер. Он же включает middleware логирования
// вызовов. Без логгера сбои обработчиков пишутся в slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithValueProvider устанавливает поставщик значений для параметров,
// объявленных через declare.FromProvider.
func WithValueProvider(provider ValueProvider) Option {
	return func(c *config) {
		c.provider = provider
	}
}

// WithTracerProvider устанавливает провайдер трассировки.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider устанавливает провайдер метрик.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = provider
	}
}

// WithPropagator устанавливает пропагатор контекста трассировки. Контекст
// извлекается из событий, реализующих Metadata() map[string]string.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagator = propagator
	}
}

// WithMiddleware добавляет middleware после стандартных. Middleware
// выполняются в порядке добавления.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *config) {
		c.middlewares = append(c.middlewares, mw...)
	}
}
