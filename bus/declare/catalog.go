package declare

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-reflect"
)

var (
	// ErrNilType возвращается при попытке объявить таблицу для nil-типа.
	ErrNilType = errors.New("тип получателя не задан")
	// ErrUnknownMethod возвращается, если у типа нет объявленного метода.
	ErrUnknownMethod = errors.New("метод не найден")
	// ErrParamIndex возвращается для позиции параметра вне сигнатуры метода.
	ErrParamIndex = errors.New("недопустимая позиция параметра")
	// ErrDuplicateParam возвращается, если один параметр объявлен дважды.
	ErrDuplicateParam = errors.New("параметр объявлен повторно")
)

// Catalog хранит таблицы объявлений по типам получателей и результаты их
// сканирования.
//
// Таблица регистрируется для базового типа: объявления для T и *T попадают в
// одну таблицу, а при сканировании учитывается только набор методов
// фактического типа получателя.
type Catalog struct {
	mu     sync.RWMutex
	tables map[reflect.Type]map[string]*MethodDeclaration
	// scans кеширует результат Scan по типу получателя.
	scans sync.Map
}

// NewCatalog создает пустой каталог объявлений.
func NewCatalog() *Catalog {
	return &Catalog{
		tables: make(map[reflect.Type]map[string]*MethodDeclaration),
	}
}

// Declare регистрирует объявления методов типа t. Повторные вызовы для того
// же типа дополняют таблицу.
//
// Структура объявлений (наличие метода, позиции параметров) проверяется
// сразу. Повтор одного и того же контракта на методе не проверяется:
// такое объявление проявится как неоднозначность при разрешении.
func (c *Catalog) Declare(t reflect.Type, methods ...*MethodDeclaration) error {
	if t == nil {
		return ErrNilType
	}
	base := indirect(t)
	methodSet := base
	if base.Kind() != reflect.Interface {
		methodSet = reflect.PtrTo(base)
	}

	for _, md := range methods {
		if md == nil {
			continue
		}
		m, ok := methodByName(methodSet, md.Name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownMethod, base, md.Name)
		}
		numIn := m.Type.NumIn() - 1
		seen := make(map[int]struct{}, len(md.Params))
		for _, p := range md.Params {
			if p.Index < 0 || p.Index >= numIn {
				return fmt.Errorf("%w: %s.%s параметр %q на позиции %d", ErrParamIndex, base, md.Name, p.Name, p.Index)
			}
			if _, dup := seen[p.Index]; dup {
				return fmt.Errorf("%w: %s.%s позиция %d", ErrDuplicateParam, base, md.Name, p.Index)
			}
			seen[p.Index] = struct{}{}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	table, ok := c.tables[base]
	if !ok {
		table = make(map[string]*MethodDeclaration)
		c.tables[base] = table
	}
	for _, md := range methods {
		if md == nil {
			continue
		}
		existing, ok := table[md.Name]
		if !ok {
			table[md.Name] = cloneMethod(md)
			continue
		}
		existing.Handlers = append(existing.Handlers, md.Handlers...)
		existing.Params = append(existing.Params, md.Params...)
	}

	// Наследование могло измениться для любых типов, встраивающих base.
	c.scans.Clear()
	return nil
}

// Type регистрирует объявления для типа T.
func Type[T any](c *Catalog, methods ...*MethodDeclaration) error {
	return c.Declare(reflect.TypeOf((*T)(nil)).Elem(), methods...)
}

// MustType аналогичен Type, но паникует при ошибке.
func MustType[T any](c *Catalog, methods ...*MethodDeclaration) {
	if err := Type[T](c, methods...); err != nil {
		panic(err)
	}
}

// TypeScan — результат сканирования типа получателя: все достижимые на нем
// объявления с учетом встроенных типов.
type TypeScan struct {
	Type reflect.Type
	// Methods упорядочены по индексу метода в наборе методов типа.
	Methods []*MethodTable
}

// Scan возвращает все объявления, достижимые на типе получателя t: его
// собственную таблицу и таблицы встроенных (анонимных) полей, рекурсивно.
// Объявление с Enabled = false подавляет унаследованное объявление того же
// контракта и само кандидатом не является. Методы, которых нет в наборе
// методов t, отбрасываются.
//
// Результат кешируется по типу.
func (c *Catalog) Scan(t reflect.Type) *TypeScan {
	if t == nil {
		return &TypeScan{}
	}
	if cached, ok := c.scans.Load(t); ok {
		return cached.(*TypeScan)
	}

	// Сохранение под блокировкой: Declare не может сбросить кеш между
	// чтением таблиц и записью результата.
	c.mu.RLock()
	defer c.mu.RUnlock()

	collected := c.collectLocked(indirect(t), make(map[reflect.Type]struct{}))

	scan := &TypeScan{Type: t}
	for name, p := range collected {
		md := p.decl
		if md == nil {
			continue
		}
		m, ok := methodByName(t, name)
		if !ok {
			continue
		}
		table := &MethodTable{
			Name:     name,
			Method:   m,
			declared: md.Params,
		}
		for _, h := range md.Handlers {
			if h.Enabled {
				table.Handlers = append(table.Handlers, h)
			}
		}
		if len(table.Handlers) == 0 && len(table.ImplicitEventParams()) == 0 {
			continue
		}
		scan.Methods = append(scan.Methods, table)
	}
	sort.Slice(scan.Methods, func(i, j int) bool {
		return scan.Methods[i].Method.Index < scan.Methods[j].Method.Index
	})

	actual, _ := c.scans.LoadOrStore(t, scan)
	return actual.(*TypeScan)
}

// promoted — объявление метода и глубина встраивания, на которой оно
// найдено. decl == nil означает, что на этой глубине имя неоднозначно.
type promoted struct {
	decl  *MethodDeclaration
	depth int
}

// collectLocked собирает объявления типа base и его встроенных типов.
// Собственные объявления типа дополняются унаследованными. Из встроенных
// полей, как и при продвижении методов в Go, берется самое мелкое; одно имя
// на нескольких полях одной глубины не наследуется ни от одного из них.
func (c *Catalog) collectLocked(base reflect.Type, path map[reflect.Type]struct{}) map[string]promoted {
	if _, ok := path[base]; ok {
		return nil
	}
	path[base] = struct{}{}
	defer delete(path, base)

	result := make(map[string]promoted)
	if base.Kind() == reflect.Struct {
		for i := 0; i < base.NumField(); i++ {
			f := base.Field(i)
			if !f.Anonymous {
				continue
			}
			for name, p := range c.collectLocked(indirect(f.Type), path) {
				p.depth++
				cur, ok := result[name]
				switch {
				case !ok || p.depth < cur.depth:
					result[name] = p
				case p.depth == cur.depth:
					result[name] = promoted{depth: p.depth}
				}
			}
		}
	}

	for name, md := range c.tables[base] {
		own := cloneMethod(md)
		if p, ok := result[name]; ok && p.decl != nil {
			own = inherit(own, p.decl)
		}
		result[name] = promoted{decl: own}
	}
	return result
}

// inherit объединяет собственное объявление метода с унаследованным.
func inherit(own, base *MethodDeclaration) *MethodDeclaration {
	if own == nil {
		return cloneMethod(base)
	}

	for _, h := range base.Handlers {
		overridden := false
		for _, o := range own.Handlers {
			if o.key() == h.key() {
				overridden = true
				break
			}
		}
		if !overridden {
			own.Handlers = append(own.Handlers, h)
		}
	}
	if len(own.Params) == 0 {
		own.Params = append([]ParameterDeclaration(nil), base.Params...)
	}
	return own
}

func cloneMethod(md *MethodDeclaration) *MethodDeclaration {
	return &MethodDeclaration{
		Name:     md.Name,
		Handlers: append([]HandlerDeclaration(nil), md.Handlers...),
		Params:   append([]ParameterDeclaration(nil), md.Params...),
	}
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// methodByName ищет метод через стандартный reflect: (*rtype).MethodByName
// из go-reflect падает на Go 1.25 при чтении сигнатуры метода.
func methodByName(t reflect.Type, name string) (reflect.Method, bool) {
	sm, ok := reflect.ToReflectType(t).MethodByName(name)
	if !ok {
		return reflect.Method{}, false
	}
	return reflect.Method{
		Name:    sm.Name,
		PkgPath: sm.PkgPath,
		Type:    reflect.ToType(sm.Type),
		Func:    reflect.ToValue(sm.Func),
		Index:   sm.Index,
	}, true
}
