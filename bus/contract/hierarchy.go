package contract

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-reflect"
)

// node — вершина графа контрактов.
type node struct {
	contract Contract
	parents  []Contract
	// seq — порядковый номер определения, используется для стабильной
	// сортировки контрактов одной глубины.
	seq   int
	depth int
}

// Hierarchy — направленный ациклический граф контрактов. Каждый контракт
// хранит список своих непосредственных предков.
//
// Hierarchy потокобезопасна. Ожидается, что Define вызывается при старте,
// а чтение (Distance, IsAncestor, ContractsOf) происходит на каждом событии.
type Hierarchy struct {
	mu    sync.RWMutex
	nodes map[Contract]*node
	seq   int
	// implemented кеширует результат ContractsOf по типу события.
	// Сбрасывается при каждом изменении графа.
	implemented sync.Map
}

// NewHierarchy создает пустую иерархию контрактов.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		nodes: make(map[Contract]*node),
	}
}

// Define регистрирует контракт c и его непосредственных предков.
// Родители, которые еще не определены, регистрируются как корневые.
// Повторный вызов для уже известного контракта добавляет новых предков.
//
// Каждый родитель должен быть встроен в c (то есть c обязан его реализовывать),
// а добавление ребра не должно создавать цикл.
func (h *Hierarchy) Define(c Contract, parents ...Contract) error {
	if c.IsZero() {
		return ErrZeroContract
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range parents {
		if p.IsZero() {
			return ErrZeroContract
		}
		if p == c {
			return fmt.Errorf("%w: %s не может быть собственным предком", ErrCycle, c)
		}
		if !p.ImplementedBy(c.typ) {
			return fmt.Errorf("%w: %s -> %s", ErrNotEmbedded, c, p)
		}
		if h.reachableLocked(p, c) {
			return fmt.Errorf("%w: %s уже является предком %s", ErrCycle, c, p)
		}
	}

	n := h.ensureLocked(c)
	for _, p := range parents {
		h.ensureLocked(p)
		if !containsContract(n.parents, p) {
			n.parents = append(n.parents, p)
		}
	}

	h.recomputeDepthsLocked()
	h.implemented.Clear()
	return nil
}

// MustDefine аналогичен Define, но паникует при ошибке.
// Удобен для объявления иерархии в init-функциях.
func (h *Hierarchy) MustDefine(c Contract, parents ...Contract) {
	if err := h.Define(c, parents...); err != nil {
		panic(err)
	}
}

// Defined сообщает, зарегистрирован ли контракт.
func (h *Hierarchy) Defined(c Contract) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.nodes[c]
	return ok
}

// Parents возвращает непосредственных предков контракта.
func (h *Hierarchy) Parents(c Contract) []Contract {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n, ok := h.nodes[c]
	if !ok {
		return nil
	}
	out := make([]Contract, len(n.parents))
	copy(out, n.parents)
	return out
}

// Distance возвращает длину кратчайшего пути от контракта from вверх по
// иерархии до ancestor. Для from == ancestor расстояние равно нулю.
// Второе значение ложно, если ancestor не является ни самим from, ни его
// предком.
func (h *Hierarchy) Distance(from, ancestor Contract) (int, bool) {
	if from.IsZero() || ancestor.IsZero() {
		return 0, false
	}
	if from == ancestor {
		return 0, true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.distanceLocked(from, ancestor)
}

// IsAncestor сообщает, является ли ancestor строгим предком c.
func (h *Hierarchy) IsAncestor(ancestor, c Contract) bool {
	d, ok := h.Distance(c, ancestor)
	return ok && d > 0
}

// Lookup возвращает контракт для типа t, если он зарегистрирован в иерархии.
func (h *Hierarchy) Lookup(t reflect.Type) (Contract, bool) {
	if t == nil || t.Kind() != reflect.Interface {
		return Contract{}, false
	}
	c := Contract{typ: t, name: t.String()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.nodes[c]
	return c, ok
}

// ContractsOf возвращает все зарегистрированные контракты, которые реализует
// тип t, начиная с наиболее производных: контракт всегда идет раньше любого
// из своих предков. Контракты одной глубины упорядочены по порядку
// определения.
//
// Результат кешируется до следующего вызова Define; возвращаемый срез
// нельзя изменять.
func (h *Hierarchy) ContractsOf(t reflect.Type) []Contract {
	if t == nil {
		return nil
	}
	if cached, ok := h.implemented.Load(t); ok {
		return cached.([]Contract)
	}

	h.mu.RLock()
	matched := make([]*node, 0, 4)
	for _, n := range h.nodes {
		if n.contract.ImplementedBy(t) {
			matched = append(matched, n)
		}
	}
	h.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].depth != matched[j].depth {
			return matched[i].depth > matched[j].depth
		}
		return matched[i].seq < matched[j].seq
	})

	out := make([]Contract, len(matched))
	for i, n := range matched {
		out[i] = n.contract
	}

	actual, _ := h.implemented.LoadOrStore(t, out)
	return actual.([]Contract)
}

func (h *Hierarchy) ensureLocked(c Contract) *node {
	n, ok := h.nodes[c]
	if !ok {
		n = &node{contract: c, seq: h.seq}
		h.seq++
		h.nodes[c] = n
	}
	return n
}

// reachableLocked сообщает, достижим ли to из from при движении к предкам.
func (h *Hierarchy) reachableLocked(from, to Contract) bool {
	_, ok := h.distanceLocked(from, to)
	return ok
}

// distanceLocked — обход в ширину по ребрам "потомок -> предок".
func (h *Hierarchy) distanceLocked(from, to Contract) (int, bool) {
	if from == to {
		return 0, true
	}

	visited := map[Contract]struct{}{from: {}}
	frontier := []Contract{from}
	for dist := 1; len(frontier) > 0; dist++ {
		var next []Contract
		for _, c := range frontier {
			n, ok := h.nodes[c]
			if !ok {
				continue
			}
			for _, p := range n.parents {
				if p == to {
					return dist, true
				}
				if _, seen := visited[p]; seen {
					continue
				}
				visited[p] = struct{}{}
				next = append(next, p)
			}
		}
		frontier = next
	}
	return 0, false
}

// recomputeDepthsLocked пересчитывает глубину каждой вершины как длину
// самого длинного пути до корня. Граф ацикличен, поэтому рекурсия конечна.
func (h *Hierarchy) recomputeDepthsLocked() {
	memo := make(map[Contract]int, len(h.nodes))
	var depth func(c Contract) int
	depth = func(c Contract) int {
		if d, ok := memo[c]; ok {
			return d
		}
		d := 0
		if n, ok := h.nodes[c]; ok {
			for _, p := range n.parents {
				if pd := depth(p) + 1; pd > d {
					d = pd
				}
			}
		}
		memo[c] = d
		return d
	}
	for c, n := range h.nodes {
		n.depth = depth(c)
	}
}

func containsContract(list []Contract, c Contract) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
