// Package history keeps the bounded, ordered turn history of one conversation.
package history

import (
	"sync"

	"github.com/af-corp/hass-agent/internal/types"
)

// Buffer is a FIFO-capped sequence of turns. When full, Append evicts the
// oldest turn regardless of role.
type Buffer struct {
	mu    sync.Mutex
	turns []types.Turn
	max   int
}

// NewBuffer returns a buffer holding at most max turns. A max of zero or
// less means unbounded.
func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

func (b *Buffer) Append(turn types.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && len(b.turns) >= b.max {
		drop := len(b.turns) - b.max + 1
		b.turns = append(b.turns[:0:0], b.turns[drop:]...)
	}
	b.turns = append(b.turns, turn)
}

// Snapshot returns a copy of the stored turns, oldest first.
func (b *Buffer) Snapshot() []types.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = nil
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}
