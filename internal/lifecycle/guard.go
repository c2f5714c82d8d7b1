package lifecycle

import (
	"errors"
	"sync"
)

// ErrJobInProgress — предыдущий запуск той же задачи ещё не завершён.
var ErrJobInProgress = errors.New("задача уже выполняется")

// jobGuard — не более одного выполнения каждой задачи одновременно.
// Повторный запуск пропускается, а не ставится в очередь.
type jobGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

func newJobGuard() *jobGuard {
	return &jobGuard{running: make(map[string]bool)}
}

// acquire занимает задачу. ok=false — задача уже выполняется.
func (g *jobGuard) acquire(name string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running[name] {
		return nil, false
	}
	g.running[name] = true
	return func() {
		g.mu.Lock()
		delete(g.running, name)
		g.mu.Unlock()
	}, true
}

// isRunning возвращает true, если задача выполняется.
func (g *jobGuard) isRunning(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[name]
}
