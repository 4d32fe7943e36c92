// Package declare содержит модель декларативных метаданных обработчиков:
// какие контракты событий обрабатывает метод получателя и откуда берутся
// значения его параметров.
//
// В Go нет аннотаций, поэтому метаданные задаются явной таблицей,
// которая регистрируется для типа получателя в Catalog:
//
//	declare.MustType[*Greeter](catalog,
//		declare.Method("OnUserCreated", declare.Handles(contract.Of[UserCreated]())),
//		declare.Method("OnAny",
//			declare.Param(0, "evt", declare.ImplicitEvent()),
//			declare.Param(1, "greeting", declare.FromProvider(), declare.Optional("hi")),
//		),
//	)
package declare

import (
	"github.com/x-research-team/dtx-dispatch/bus/contract"
)

// Source определяет, откуда берется значение параметра.
type Source int

const (
	// FromEventSource — значение читается из свойства события.
	FromEventSource Source = iota
	// FromProviderSource — значение запрашивается у внешнего поставщика.
	FromProviderSource
	// ImplicitEventSource — параметр принимает само событие; по его типу
	// выводится обрабатываемый контракт.
	ImplicitEventSource
)

// String возвращает имя источника.
func (s Source) String() string {
	switch s {
	case FromEventSource:
		return "event"
	case FromProviderSource:
		return "provider"
	case ImplicitEventSource:
		return "implicit-event"
	default:
		return "unknown"
	}
}

// HandlerDeclaration объявляет, что метод обрабатывает контракт.
type HandlerDeclaration struct {
	// Contract — явно объявленный контракт. nil означает, что контракт
	// выводится из типа параметра метода.
	Contract *contract.Contract
	// Enabled = false на переопределяющем методе подавляет унаследованное
	// объявление того же контракта.
	Enabled bool
}

// Explicit сообщает, задан ли контракт явно.
func (d HandlerDeclaration) Explicit() bool {
	return d.Contract != nil
}

// key возвращает ключ для сопоставления объявлений при наследовании.
func (d HandlerDeclaration) key() contract.Contract {
	if d.Contract == nil {
		return contract.Contract{}
	}
	return *d.Contract
}

// ParameterDeclaration описывает привязку формального параметра метода.
type ParameterDeclaration struct {
	// Index — позиция параметра без учета получателя, с нуля.
	Index int
	// Name — имя параметра.
	Name string
	// SourceName — имя свойства события или имя значения у поставщика.
	// Пустое значение означает Name.
	SourceName string
	// Required = false разрешает подставить Default, если значение не найдено.
	Required bool
	Source   Source
	// Default — собственное значение параметра по умолчанию. nil означает
	// нулевое значение типа параметра.
	Default any
	// Declared ложно для параметров, для которых в таблице нет объявления.
	Declared bool
}

// Property возвращает имя, по которому ищется значение.
func (p ParameterDeclaration) Property() string {
	if p.SourceName != "" {
		return p.SourceName
	}
	return p.Name
}

// MethodDeclaration — строка таблицы объявлений: один метод получателя.
type MethodDeclaration struct {
	Name     string
	Handlers []HandlerDeclaration
	Params   []ParameterDeclaration
}

// MethodOption настраивает MethodDeclaration.
type MethodOption func(*MethodDeclaration)

// ParamOption настраивает ParameterDeclaration.
type ParamOption func(*ParameterDeclaration)

// Method объявляет метод получателя с указанным именем.
func Method(name string, opts ...MethodOption) *MethodDeclaration {
	m := &MethodDeclaration{Name: name}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handles объявляет, что метод обрабатывает контракт c и всех его потомков.
// Несколько вызовов объявляют несколько контрактов.
func Handles(c contract.Contract) MethodOption {
	return func(m *MethodDeclaration) {
		c := c
		m.Handlers = append(m.Handlers, HandlerDeclaration{Contract: &c, Enabled: true})
	}
}

// HandlesInferred объявляет метод обработчиком без явного контракта:
// контракт выводится из типа параметра.
func HandlesInferred() MethodOption {
	return func(m *MethodDeclaration) {
		m.Handlers = append(m.Handlers, HandlerDeclaration{Enabled: true})
	}
}

// Disables подавляет унаследованное объявление контракта c для метода.
func Disables(c contract.Contract) MethodOption {
	return func(m *MethodDeclaration) {
		c := c
		m.Handlers = append(m.Handlers, HandlerDeclaration{Contract: &c, Enabled: false})
	}
}

// Param объявляет параметр с позицией index (без учета получателя).
// По умолчанию параметр обязателен и берется из свойства события name.
func Param(index int, name string, opts ...ParamOption) MethodOption {
	return func(m *MethodDeclaration) {
		p := ParameterDeclaration{
			Index:    index,
			Name:     name,
			Required: true,
			Source:   FromEventSource,
			Declared: true,
		}
		for _, opt := range opts {
			opt(&p)
		}
		m.Params = append(m.Params, p)
	}
}

// FromEvent указывает, что значение читается из свойства события.
func FromEvent() ParamOption {
	return func(p *ParameterDeclaration) {
		p.Source = FromEventSource
	}
}

// FromProvider указывает, что значение запрашивается у внешнего поставщика.
func FromProvider() ParamOption {
	return func(p *ParameterDeclaration) {
		p.Source = FromProviderSource
	}
}

// ImplicitEvent помечает параметр как неявный параметр события.
func ImplicitEvent() ParamOption {
	return func(p *ParameterDeclaration) {
		p.Source = ImplicitEventSource
	}
}

// Property задает имя свойства или значения, отличное от имени параметра.
func Property(name string) ParamOption {
	return func(p *ParameterDeclaration) {
		p.SourceName = name
	}
}

// Optional делает параметр необязательным со значением по умолчанию def.
func Optional(def any) ParamOption {
	return func(p *ParameterDeclaration) {
		p.Required = false
		p.Default = def
	}
}
