package invoke

import (
	"github.com/x-research-team/dtx-dispatch/bus/resolve"
)

// Outcome — исход попытки вызова обработчика для одного получателя.
type Outcome int

const (
	// Success — обработчик вызван и завершился без ошибки.
	Success Outcome = iota
	// Failure — обработчик найден, но вызов не удался: параметр не связан,
	// метод вернул ошибку или запаниковал.
	Failure
	// NotHandled — у получателя нет обработчика для события. Не ошибка.
	NotHandled
)

// String возвращает имя исхода.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case NotHandled:
		return "not_handled"
	default:
		return "unknown"
	}
}

// Status — маркер статуса, который обработчик может вернуть вместо обычного
// значения. Invoker передает его вызывающему без изменений.
type Status struct {
	Outcome Outcome
	Value   any
	// StopPropagation просит цепочку не доставлять событие следующим
	// получателям.
	StopPropagation bool
}

// Stop возвращает успешный статус, прерывающий рассылку.
func Stop(value any) Status {
	return Status{Outcome: Success, Value: value, StopPropagation: true}
}

// Result — результат вызова для одного получателя.
type Result struct {
	Outcome Outcome
	// Value — возвращенное обработчиком значение (первое значение, не
	// являющееся ошибкой) или Status.Value.
	Value any
	// Err содержит причину исхода Failure.
	Err error
	// Handler — выбранный обработчик. nil для NotHandled.
	Handler *resolve.Descriptor
	// StopPropagation выставлен, если обработчик вернул статус с этим флагом.
	StopPropagation bool
}

// Handled сообщает, был ли найден обработчик.
func (r Result) Handled() bool {
	return r.Outcome != NotHandled
}
