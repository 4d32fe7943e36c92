package chain

import (
	"log/slog"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultPriority — приоритет регистрации, если он не указан явно.
	DefaultPriority Priority = 0
	// DefaultMaxRecursion — допустимая глубина вложенных рассылок.
	DefaultMaxRecursion = 8
)

// Config — настройки цепочки, которые можно задать через окружение.
type Config struct {
	DefaultPriority Priority `env:"DTX_DISPATCH_DEFAULT_PRIORITY" envDefault:"0"`
	MaxRecursion    int      `env:"DTX_DISPATCH_MAX_RECURSION"    envDefault:"8"`
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		DefaultPriority: DefaultPriority,
		MaxRecursion:    DefaultMaxRecursion,
	}
}

// LoadConfigFromEnv читает настройки из переменных окружения. При ошибке
// разбора возвращаются значения по умолчанию.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return DefaultConfig()
	}
	if cfg.MaxRecursion <= 0 {
		cfg.MaxRecursion = DefaultMaxRecursion
	}
	return cfg
}

// config содержит неэкспортируемую конфигурацию цепочки.
type config struct {
	defaultPriority Priority
	maxRecursion    int
	logger          *slog.Logger
}

// Option изменяет конфигурацию цепочки.
type Option func(*config)

// WithConfig применяет настройки, например полученные из LoadConfigFromEnv.
func WithConfig(cfg Config) Option {
	return func(c *config) {
		c.defaultPriority = cfg.DefaultPriority
		if cfg.MaxRecursion > 0 {
			c.maxRecursion = cfg.MaxRecursion
		}
	}
}

// WithDefaultPriority задает приоритет для регистраций без WithPriority.
func WithDefaultPriority(p Priority) Option {
	return func(c *config) {
		c.defaultPriority = p
	}
}

// WithMaxRecursion задает допустимую глубину вложенных рассылок.
func WithMaxRecursion(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxRecursion = n
		}
	}
}

// WithLogger устанавливает логгер цепочки.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// registration — параметры одной регистрации.
type registration struct {
	priority Priority
}

// RegisterOption настраивает регистрацию получателя.
type RegisterOption func(*registration)

// WithPriority задает приоритет получателя. Меньшее значение доставляется
// раньше.
func WithPriority(p Priority) RegisterOption {
	return func(r *registration) {
		r.priority = p
	}
}
