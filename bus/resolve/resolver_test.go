package resolve_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-reflect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/dtx-dispatch/bus/contract"
	"github.com/x-research-team/dtx-dispatch/bus/declare"
	"github.com/x-research-team/dtx-dispatch/bus/resolve"
	"github.com/x-research-team/dtx-dispatch/bus/resolve/internal/lookalike"
)

// --- Контракты ---

type testEventBase interface {
	isTestEventBase()
}

type testEvent interface {
	testEventBase
	isTestEvent()
}

type testEvent2 interface {
	testEventBase
	isTestEvent2()
}

type leftEvent interface {
	isLeft()
}

type rightEvent interface {
	isRight()
}

type bothEvent interface {
	leftEvent
	rightEvent
}

// --- Получатели ---

type Receiver struct{}

func (*Receiver) Handler() string { return "Handler" }

type baseOnlyReceiver struct{}

func (*baseOnlyReceiver) HandlerBase() string { return "HandlerBase" }

type specificReceiver struct{}

func (*specificReceiver) Handler() string     { return "Handler" }
func (*specificReceiver) HandlerBase() string { return "HandlerBase" }

type twoHandlersReceiver struct{}

func (*twoHandlersReceiver) First()  {}
func (*twoHandlersReceiver) Second() {}

type implicitReceiver struct{}

func (*implicitReceiver) OnEvent(e testEvent) {}

type inferredReceiver struct{}

func (*inferredReceiver) OnEvent(name string, e testEventBase) {}

type diamondReceiver struct{}

func (*diamondReceiver) OnLeft(e leftEvent)   {}
func (*diamondReceiver) OnRight(e rightEvent) {}

type multiReceiver struct{}

func (*multiReceiver) OnAny() {}

type baseReceiver struct{}

func (*baseReceiver) Handler() {}

type overridingReceiver struct {
	baseReceiver
}

type nearReceiver struct{}

func (*nearReceiver) OnEvent() {}

type farReceiver struct{}

func (*farReceiver) OnEvent() {}

type farHolder struct {
	farReceiver
}

type shadowReceiver struct {
	nearReceiver
	farHolder
}

// --- Окружение ---

type env struct {
	catalog   *declare.Catalog
	hierarchy *contract.Hierarchy
	resolver  *resolve.Resolver
}

func newEnv(t *testing.T) *env {
	t.Helper()

	h := contract.NewHierarchy()
	h.MustDefine(contract.Of[testEventBase]())
	h.MustDefine(contract.Of[testEvent](), contract.Of[testEventBase]())
	h.MustDefine(contract.Of[testEvent2](), contract.Of[testEventBase]())
	h.MustDefine(contract.Of[bothEvent](), contract.Of[leftEvent](), contract.Of[rightEvent]())

	c := declare.NewCatalog()
	declare.MustType[Receiver](c,
		declare.Method("Handler", declare.Handles(contract.Of[testEvent]())),
	)
	declare.MustType[lookalike.Receiver](c,
		declare.Method("Handler", declare.Handles(contract.Of[testEvent2]())),
	)
	declare.MustType[baseOnlyReceiver](c,
		declare.Method("HandlerBase", declare.Handles(contract.Of[testEventBase]())),
	)
	declare.MustType[specificReceiver](c,
		declare.Method("Handler", declare.Handles(contract.Of[testEvent]())),
		declare.Method("HandlerBase", declare.Handles(contract.Of[testEventBase]())),
	)
	declare.MustType[twoHandlersReceiver](c,
		declare.Method("First", declare.Handles(contract.Of[testEvent]())),
		declare.Method("Second", declare.Handles(contract.Of[testEvent]())),
	)
	declare.MustType[implicitReceiver](c,
		declare.Method("OnEvent", declare.Param(0, "e", declare.ImplicitEvent())),
	)
	declare.MustType[inferredReceiver](c,
		declare.Method("OnEvent", declare.HandlesInferred()),
	)
	declare.MustType[diamondReceiver](c,
		declare.Method("OnLeft", declare.Handles(contract.Of[leftEvent]())),
		declare.Method("OnRight", declare.Handles(contract.Of[rightEvent]())),
	)
	declare.MustType[multiReceiver](c,
		declare.Method("OnAny",
			declare.Handles(contract.Of[testEventBase]()),
			declare.Handles(contract.Of[testEvent]()),
			declare.Handles(contract.Of[testEvent2]()),
		),
	)
	declare.MustType[baseReceiver](c,
		declare.Method("Handler", declare.Handles(contract.Of[testEvent]())),
	)
	declare.MustType[overridingReceiver](c,
		declare.Method("Handler", declare.Disables(contract.Of[testEvent]())),
	)

	declare.MustType[nearReceiver](c,
		declare.Method("OnEvent", declare.Handles(contract.Of[leftEvent]())),
	)
	declare.MustType[farReceiver](c,
		declare.Method("OnEvent", declare.Handles(contract.Of[testEvent2]())),
	)

	r, err := resolve.New(c, h)
	require.NoError(t, err)

	return &env{catalog: c, hierarchy: h, resolver: r}
}

func typeOf(v any) reflect.Type {
	return reflect.TypeOf(v)
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := resolve.New(nil, contract.NewHierarchy())
	require.ErrorIs(t, err, resolve.ErrNilCatalog)

	_, err = resolve.New(declare.NewCatalog(), nil)
	require.ErrorIs(t, err, resolve.ErrNilHierarchy)
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	t.Run("единственное явное объявление", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		require.NotNil(t, d)

		assert.True(t, d.Valid)
		assert.Equal(t, "Handler", d.MethodName())
		assert.Equal(t, contract.Of[testEvent](), d.RequestedContract)
		assert.Equal(t, contract.Of[testEvent](), d.HandledContract)
		assert.True(t, d.Explicit())
		assert.Equal(t, 0, d.Distance)
	})

	t.Run("обработчика нет", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&Receiver{}), contract.Of[testEvent2]())
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("тип без объявлений", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(struct{}{}), contract.Of[testEvent]())
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("обработчик базового контракта покрывает производный", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&baseOnlyReceiver{}), contract.Of[testEvent2]())
		require.NoError(t, err)
		require.NotNil(t, d)

		assert.Equal(t, "HandlerBase", d.MethodName())
		assert.Equal(t, contract.Of[testEvent2](), d.RequestedContract)
		assert.Equal(t, contract.Of[testEventBase](), d.HandledContract)
		assert.Equal(t, 1, d.Distance)
	})

	t.Run("точное совпадение важнее предка", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&specificReceiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, "Handler", d.MethodName())

		d, err = e.resolver.Resolve(typeOf(&specificReceiver{}), contract.Of[testEvent2]())
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, "HandlerBase", d.MethodName())
	})

	t.Run("два метода для одного контракта", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&twoHandlersReceiver{}), contract.Of[testEvent]())
		assert.Nil(t, d)
		require.ErrorIs(t, err, resolve.ErrAmbiguousHandler)

		var ambiguous *resolve.AmbiguousHandlerError
		require.True(t, errors.As(err, &ambiguous))
		assert.Equal(t, []string{"First", "Second"}, ambiguous.Methods)
		assert.Equal(t, contract.Of[testEvent](), ambiguous.Contract)
		assert.Same(t, typeOf(&twoHandlersReceiver{}), ambiguous.ReceiverType)
		assert.Contains(t, err.Error(), "First")
		assert.Contains(t, err.Error(), "Second")
	})

	t.Run("неоднозначность проявляется только для запрошенного контракта", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&twoHandlersReceiver{}), contract.Of[testEvent2]())
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("неявный параметр события", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&implicitReceiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		require.NotNil(t, d)

		assert.Equal(t, "OnEvent", d.MethodName())
		assert.Equal(t, contract.Of[testEvent](), d.HandledContract)
		assert.Nil(t, d.Declaration, "для неявного сопоставления объявления нет")
		assert.False(t, d.Explicit())

		d, err = e.resolver.Resolve(typeOf(&implicitReceiver{}), contract.Of[testEvent2]())
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("контракт выводится из параметра", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&inferredReceiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		require.NotNil(t, d)

		assert.Equal(t, contract.Of[testEventBase](), d.HandledContract)
		require.NotNil(t, d.Declaration)
		assert.Nil(t, d.Declaration.Contract)
		assert.False(t, d.Explicit())
		assert.Equal(t, 1, d.Distance)
	})

	t.Run("ромб: равноудаленные предки неоднозначны", func(t *testing.T) {
		t.Parallel()
		_, err := e.resolver.Resolve(typeOf(&diamondReceiver{}), contract.Of[bothEvent]())
		require.ErrorIs(t, err, resolve.ErrAmbiguousHandler)
	})

	t.Run("один метод для нескольких контрактов", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&multiReceiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, contract.Of[testEvent](), d.HandledContract)
		assert.Equal(t, 0, d.Distance)
	})

	t.Run("подавленное унаследованное объявление", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&overridingReceiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		assert.Nil(t, d)

		d, err = e.resolver.Resolve(typeOf(&baseReceiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		require.NotNil(t, d)
	})

	t.Run("объявления затененного метода не действуют", func(t *testing.T) {
		t.Parallel()
		d, err := e.resolver.Resolve(typeOf(&shadowReceiver{}), contract.Of[testEvent2]())
		require.NoError(t, err)
		assert.Nil(t, d)

		d, err = e.resolver.Resolve(typeOf(&shadowReceiver{}), contract.Of[leftEvent]())
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, "OnEvent", d.MethodName())
	})

	t.Run("nil-тип", func(t *testing.T) {
		t.Parallel()
		_, err := e.resolver.Resolve(nil, contract.Of[testEvent]())
		require.ErrorIs(t, err, resolve.ErrNilReceiverType)
	})
}

func TestResolver_DuplicateContractOnMethod(t *testing.T) {
	t.Parallel()

	h := contract.NewHierarchy()
	h.MustDefine(contract.Of[testEvent](), contract.Of[testEventBase]())

	c := declare.NewCatalog()
	declare.MustType[Receiver](c, declare.Method("Handler",
		declare.Handles(contract.Of[testEventBase]()),
		declare.Handles(contract.Of[testEventBase]()),
		declare.Handles(contract.Of[testEvent]()),
	))

	r, err := resolve.New(c, h)
	require.NoError(t, err)

	// Более специфичное объявление перекрывает дубликат.
	d, err := r.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
	require.NoError(t, err)
	require.NotNil(t, d)

	_, err = r.Resolve(typeOf(&Receiver{}), contract.Of[testEventBase]())
	var ambiguous *resolve.AmbiguousHandlerError
	require.True(t, errors.As(err, &ambiguous))
	assert.Equal(t, []string{"Handler", "Handler"}, ambiguous.Methods)
}

func TestResolver_Cache(t *testing.T) {
	t.Parallel()

	t.Run("повторное разрешение возвращает тот же дескриптор", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		d1, err := e.resolver.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		d2, err := e.resolver.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)

		assert.Same(t, d1, d2)
		assert.Equal(t, 1, e.resolver.Cache().Len())
	})

	t.Run("кешируются все исходы", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		_, _ = e.resolver.Resolve(typeOf(&Receiver{}), contract.Of[testEvent2]())
		_, err1 := e.resolver.Resolve(typeOf(&twoHandlersReceiver{}), contract.Of[testEvent]())
		_, err2 := e.resolver.Resolve(typeOf(&twoHandlersReceiver{}), contract.Of[testEvent]())

		assert.Equal(t, 2, e.resolver.Cache().Len())
		assert.Same(t, err1, err2)
	})

	t.Run("типы с одинаковым именем не смешиваются", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		ours, err := e.resolver.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		require.NotNil(t, ours)

		theirs, err := e.resolver.Resolve(typeOf(&lookalike.Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		assert.Nil(t, theirs)

		theirs, err = e.resolver.Resolve(typeOf(&lookalike.Receiver{}), contract.Of[testEvent2]())
		require.NoError(t, err)
		require.NotNil(t, theirs)
		assert.Same(t, typeOf(&lookalike.Receiver{}), theirs.ReceiverType)
	})

	t.Run("Clear сбрасывает кеш", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		d1, err := e.resolver.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)

		e.resolver.Cache().Clear()
		assert.Equal(t, 0, e.resolver.Cache().Len())

		d2, err := e.resolver.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		assert.NotSame(t, d1, d2)
		assert.Equal(t, d1.MethodName(), d2.MethodName())
		assert.Equal(t, d1.HandledContract, d2.HandledContract)
	})

	t.Run("общий кеш между резолверами", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		shared := resolve.NewCache()

		r1, err := resolve.New(e.catalog, e.hierarchy, resolve.WithCache(shared))
		require.NoError(t, err)
		r2, err := resolve.New(e.catalog, e.hierarchy, resolve.WithCache(shared))
		require.NoError(t, err)

		d1, err := r1.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		d2, err := r2.Resolve(typeOf(&Receiver{}), contract.Of[testEvent]())
		require.NoError(t, err)
		assert.Same(t, d1, d2)
	})

	t.Run("одновременное разрешение одного ключа", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		const goroutines = 64
		results := make([]*resolve.Descriptor, goroutines)

		var wg sync.WaitGroup
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func(i int) {
				defer wg.Done()
				d, err := e.resolver.Resolve(typeOf(&specificReceiver{}), contract.Of[testEvent2]())
				if err == nil {
					results[i] = d
				}
			}(i)
		}
		wg.Wait()

		require.NotNil(t, results[0])
		for i := 1; i < goroutines; i++ {
			assert.Same(t, results[0], results[i], "все горутины должны получить один и тот же дескриптор")
		}
	})
}

func BenchmarkResolve_Cached(b *testing.B) {
	h := contract.NewHierarchy()
	h.MustDefine(contract.Of[testEvent](), contract.Of[testEventBase]())

	c := declare.NewCatalog()
	declare.MustType[specificReceiver](c,
		declare.Method("Handler", declare.Handles(contract.Of[testEvent]())),
		declare.Method("HandlerBase", declare.Handles(contract.Of[testEventBase]())),
	)

	r, err := resolve.New(c, h)
	if err != nil {
		b.Fatalf("не удалось создать резолвер: %v", err)
	}
	typ := typeOf(&specificReceiver{})
	requested := contract.Of[testEvent]()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := r.Resolve(typ, requested); err != nil {
				b.Errorf("ошибка разрешения: %v", err)
			}
		}
	})
}
