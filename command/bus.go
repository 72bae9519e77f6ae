package command

import (
	"sync"

	"github.com/kleeedolinux/notebookws/debug"
)

type Handler func(arg string)

// Bus is a named publish/subscribe channel for UI commands. Handlers run
// synchronously on the emitting goroutine in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

func (b *Bus) On(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

func (b *Bus) Off(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, name)
}

// Emit returns how many handlers saw arg.
func (b *Bus) Emit(name, arg string) int {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	debug.Printf("Bus: %s(%q) -> %d handlers", name, arg, len(handlers))

	for _, h := range handlers {
		h(arg)
	}
	return len(handlers)
}
