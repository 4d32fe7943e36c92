package invoke

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-reflect"

	"github.com/x-research-team/dtx-dispatch/bus/declare"
	"github.com/x-research-team/dtx-dispatch/bus/resolve"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// binding — значения, доступные при связывании параметров одного вызова.
type binding struct {
	ctx        context.Context
	event      any
	eventType  reflect.Type
	sender     any
	senderType reflect.Type
	provider   ValueProvider
}

func newBinding(ctx context.Context, event, sender any, provider ValueProvider) *binding {
	b := &binding{ctx: ctx, event: event, sender: sender, provider: provider}
	if event != nil {
		b.eventType = reflect.TypeOf(event)
	}
	if sender != nil {
		b.senderType = reflect.TypeOf(sender)
	}
	return b
}

// args вычисляет аргументы метода d по порядку параметров.
//
// Для каждого параметра пробуются источники: само событие, контекст вызова,
// отправитель, объявленное свойство события или значение поставщика.
// Несвязанный обязательный параметр дает *BindingError, необязательный
// получает значение по умолчанию.
func (b *binding) args(d *resolve.Descriptor) ([]reflect.Value, error) {
	params := d.Params()
	out := make([]reflect.Value, 0, len(params))
	for i, p := range params {
		pt := d.ParamType(i)

		v, reason, ok := b.value(p, pt)
		if !ok {
			if p.Required {
				return nil, &BindingError{Method: d.MethodName(), Index: i, Name: p.Name, Type: pt, Reason: reason}
			}
			if v, ok = defaultValue(p, pt); !ok {
				return nil, &BindingError{
					Method: d.MethodName(), Index: i, Name: p.Name, Type: pt,
					Reason: fmt.Sprintf("значение по умолчанию %T несовместимо с типом параметра", p.Default),
				}
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *binding) value(p declare.ParameterDeclaration, pt reflect.Type) (reflect.Value, string, bool) {
	if p.Declared && p.Source == declare.ImplicitEventSource {
		if b.eventType != nil && b.eventType.AssignableTo(pt) {
			return reflect.ValueOf(b.event), "", true
		}
		return reflect.Value{}, "событие несовместимо с типом параметра", false
	}

	switch {
	case b.eventType != nil && b.eventType.AssignableTo(pt):
		return reflect.ValueOf(b.event), "", true
	case pt == contextType:
		return reflect.ValueOf(b.ctx), "", true
	case b.senderType != nil && b.senderType.AssignableTo(pt):
		return reflect.ValueOf(b.sender), "", true
	}

	if !p.Declared {
		return reflect.Value{}, "нет источника значения", false
	}
	switch p.Source {
	case declare.FromEventSource:
		return property(b.event, p.Property(), pt)
	case declare.FromProviderSource:
		return b.fromProvider(p.Property(), pt)
	default:
		return reflect.Value{}, "неизвестный источник " + p.Source.String(), false
	}
}

func (b *binding) fromProvider(name string, pt reflect.Type) (reflect.Value, string, bool) {
	if name == "" {
		return reflect.Value{}, "не задано имя значения", false
	}
	raw, ok := b.provider.TryResolveByName(name, pt)
	if !ok {
		return reflect.Value{}, fmt.Sprintf("поставщик не вернул значение %q", name), false
	}
	if raw == nil {
		if nillable(pt) {
			return reflect.Zero(pt), "", true
		}
		return reflect.Value{}, fmt.Sprintf("поставщик вернул nil для %q", name), false
	}
	v := reflect.ValueOf(raw)
	if !v.Type().AssignableTo(pt) {
		return reflect.Value{}, fmt.Sprintf("значение %q имеет несовместимый тип %T", name, raw), false
	}
	return v, "", true
}

// property читает свойство name события: метод-геттер без аргументов или
// экспортируемое поле. Имя пробуется как есть и с заглавной буквы.
func property(event any, name string, pt reflect.Type) (reflect.Value, string, bool) {
	if event == nil {
		return reflect.Value{}, "событие не задано", false
	}
	if name == "" {
		return reflect.Value{}, "не задано имя свойства", false
	}

	ev := reflect.ValueOf(event)
	names := propertyNames(name)

	for _, n := range names {
		m := ev.MethodByName(n)
		if !m.IsValid() {
			continue
		}
		v, reason, ok := callGetter(m)
		if !ok {
			return reflect.Value{}, fmt.Sprintf("свойство %q: %s", name, reason), false
		}
		return assign(v, name, pt)
	}

	s := ev
	for s.Kind() == reflect.Ptr {
		if s.IsNil() {
			return reflect.Value{}, "событие является nil-указателем", false
		}
		s = s.Elem()
	}
	if s.Kind() == reflect.Struct {
		for _, n := range names {
			f := s.FieldByName(n)
			if f.IsValid() && f.CanInterface() {
				return assign(f, name, pt)
			}
		}
	}
	return reflect.Value{}, fmt.Sprintf("у события нет свойства %q", name), false
}

func callGetter(m reflect.Value) (reflect.Value, string, bool) {
	mt := m.Type()
	if mt.NumIn() != 0 || mt.NumOut() == 0 || mt.NumOut() > 2 {
		return reflect.Value{}, "метод не является геттером", false
	}
	out := m.Call(nil)
	if len(out) == 2 {
		if !mt.Out(1).Implements(errorType) {
			return reflect.Value{}, "второе значение геттера не является ошибкой", false
		}
		if !out[1].IsNil() {
			return reflect.Value{}, out[1].Interface().(error).Error(), false
		}
	}
	return out[0], "", true
}

func assign(v reflect.Value, name string, pt reflect.Type) (reflect.Value, string, bool) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			if nillable(pt) {
				return reflect.Zero(pt), "", true
			}
			return reflect.Value{}, fmt.Sprintf("свойство %q равно nil", name), false
		}
		v = v.Elem()
	}
	if !v.Type().AssignableTo(pt) {
		return reflect.Value{}, fmt.Sprintf("свойство %q имеет несовместимый тип %s", name, v.Type()), false
	}
	return v, "", true
}

func defaultValue(p declare.ParameterDeclaration, pt reflect.Type) (reflect.Value, bool) {
	if p.Default == nil {
		return reflect.Zero(pt), true
	}
	v := reflect.ValueOf(p.Default)
	vt := v.Type()
	switch {
	case vt.AssignableTo(pt):
		return v, true
	case vt.ConvertibleTo(pt):
		return v.Convert(pt), true
	default:
		return reflect.Value{}, false
	}
}

func propertyNames(name string) []string {
	r, size := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return []string{name}
	}
	return []string{name, string(unicode.ToUpper(r)) + name[size:]}
}
