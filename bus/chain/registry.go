package chain

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/x-research-team/dtx-dispatch/bus/invoke"
)

// ErrEmptyName возвращается при запросе цепочки без имени.
var ErrEmptyName = errors.New("имя цепочки не может быть пустым")

// Registry хранит именованные цепочки с общим инвокером. Для каждого имени
// существует только одна цепочка.
type Registry struct {
	invoker invoke.Invoker
	opts    []Option

	mu     sync.RWMutex
	chains map[string]*Chain
}

// NewRegistry создает реестр. Опции opts применяются ко всем цепочкам
// перед опциями конкретного вызова Chain.
func NewRegistry(invoker invoke.Invoker, opts ...Option) *Registry {
	return &Registry{
		invoker: invoker,
		opts:    opts,
		chains:  make(map[string]*Chain),
	}
}

// Chain возвращает цепочку с именем name, создавая ее при первом обращении.
// Опции учитываются только при создании.
func (r *Registry) Chain(name string, opts ...Option) (*Chain, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	r.mu.RLock()
	c, exists := r.chains[name]
	r.mu.RUnlock()
	if exists {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Повторная проверка: цепочку могли создать, пока ожидали блокировку.
	if c, exists := r.chains[name]; exists {
		return c, nil
	}

	all := make([]Option, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)

	c, err := newChain(name, r.invoker, all...)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать цепочку '%s': %w", name, err)
	}
	r.chains[name] = c
	return c, nil
}

// Names возвращает имена цепочек в алфавитном порядке.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close удаляет все регистрации во всех цепочках и очищает реестр.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.chains {
		c.Clear()
	}
	r.chains = make(map[string]*Chain)
}
