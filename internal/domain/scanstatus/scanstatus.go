// Пакет scanstatus — конечный автомат статуса антивирусной проверки файла.
//
// Жизненный цикл однонаправленный:
//   - pending → scanning → {clean | infected | error}
//   - {clean | infected | error} → deleted (терминальная метка Lifecycle Manager)
//
// Повторное посещение состояния невозможно: после clean/infected/error
// допустим только переход в deleted.
package scanstatus

import (
	"fmt"
	"sync"
)

// Status — статус антивирусной проверки файла.
type Status string

const (
	// Pending — файл записан, проверка ещё не начата
	Pending Status = "pending"
	// Scanning — идёт проверка
	Scanning Status = "scanning"
	// Clean — угроз не обнаружено, файл можно отдавать
	Clean Status = "clean"
	// Infected — обнаружена угроза
	Infected Status = "infected"
	// Error — проверка не завершилась (таймаут, ошибка движка)
	Error Status = "error"
	// Deleted — терминальная метка, ставится перед физическим удалением
	Deleted Status = "deleted"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[Status]map[Status]bool{
	Pending:  {Scanning: true},
	Scanning: {Clean: true, Infected: true, Error: true},
	Clean:    {Deleted: true},
	Infected: {Deleted: true},
	Error:    {Deleted: true},
	Deleted:  {},
}

// All возвращает все статусы в порядке жизненного цикла.
func All() []Status {
	return []Status{Pending, Scanning, Clean, Infected, Error, Deleted}
}

// Parse преобразует строку в Status.
func Parse(s string) (Status, error) {
	st := Status(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("недопустимый статус проверки: %q", s)
	}
	return st, nil
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// IsFinal возвращает true для статусов, в которых проверка завершена.
func (s Status) IsFinal() bool {
	switch s {
	case Clean, Infected, Error, Deleted:
		return true
	default:
		return false
	}
}

// Transition проверяет переход и возвращает *TransitionError, если он запрещён.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Tracker — держатель статуса с единственным писателем.
// Используется конвейером загрузки на время одного вызова Ingest.
type Tracker struct {
	mu      sync.RWMutex
	current Status
	history []Status
}

// NewTracker создаёт Tracker в состоянии pending.
func NewTracker() *Tracker {
	return &Tracker{
		current: Pending,
		history: []Status{Pending},
	}
}

// Current возвращает текущий статус.
func (t *Tracker) Current() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Transition выполняет переход в указанный статус.
func (t *Tracker) Transition(to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := Transition(t.current, to); err != nil {
		return err
	}
	t.current = to
	t.history = append(t.history, to)
	return nil
}

// History возвращает пройденные статусы (копия).
func (t *Tracker) History() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Status, len(t.history))
	copy(result, t.history)
	return result
}

// TransitionError — запрещённый переход статуса проверки.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: переход статуса проверки %s → %s недопустим", e.From, e.To)
}
