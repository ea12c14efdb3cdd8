package state

import (
	"sort"
	"sync"

	"github.com/username/betflow/pkg/core"
)

// UserState is the append-only transaction history of each sender address.
// It is safe for concurrent use.
type UserState struct {
	mu      sync.RWMutex
	history map[core.Address][]core.TransactionOutcome
}

// NewUserState creates an empty UserState
func NewUserState() *UserState {
	return &UserState{history: make(map[core.Address][]core.TransactionOutcome)}
}

// Append records an outcome for the sender
func (u *UserState) Append(sender core.Address, outcome core.TransactionOutcome) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.history[sender] = append(u.history[sender], outcome)
}

// History returns a copy of the sender's outcomes in the order they were recorded
func (u *UserState) History(sender core.Address) []core.TransactionOutcome {
	u.mu.RLock()
	defer u.mu.RUnlock()

	h := u.history[sender]
	out := make([]core.TransactionOutcome, len(h))
	copy(out, h)
	return out
}

// Addresses returns every sender with at least one outcome, sorted
func (u *UserState) Addresses() []core.Address {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]core.Address, 0, len(u.history))
	for a := range u.history {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
