package trash

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"council/internal/council"
)

const (
	// DefaultGrace is how long a delete stays undoable.
	DefaultGrace = 10 * time.Second
	// DefaultTick is the visible countdown resolution.
	DefaultTick = time.Second
)

var (
	// ErrNothingPending indicates an undo or delete-now with no delete
	// in flight.
	ErrNothingPending = errors.New("no pending delete")
)

// Outcome is how a pending delete resolved.
type Outcome string

const (
	// OutcomeCommitted means the server delete succeeded.
	OutcomeCommitted Outcome = "committed"
	// OutcomeUndone means the user restored the conversation in time.
	OutcomeUndone Outcome = "undone"
	// OutcomeRolledBack means the server delete failed and the row was
	// put back without moving the selection.
	OutcomeRolledBack Outcome = "rolled_back"
)

// Pending captures everything needed to put a deleted row back exactly
// where it was.
type Pending struct {
	Meta      council.Meta
	Index     int
	WasActive bool
}

// Hooks connect a Manager to its owner. Commit performs the server
// delete. Restore reinserts the row; reselect is true only for an undo
// of the actively selected conversation. OnTick and OnResolved drive
// the visible countdown and are called outside the manager lock.
type Hooks struct {
	Commit     func(ctx context.Context, id string) error
	Restore    func(p Pending, reselect bool)
	OnTick     func(id string, remaining time.Duration)
	OnResolved func(id string, outcome Outcome)
}

// Manager runs at most one delete transaction at a time: the row leaves
// the list immediately, the server delete happens only after the grace
// period, and until then the delete can be undone.
type Manager struct {
	grace  time.Duration
	tick   time.Duration
	hooks  Hooks
	logger zerolog.Logger

	mu      sync.Mutex
	current *transaction
}

type transaction struct {
	pending Pending
	timer   *time.Timer
	ticker  *time.Ticker
	stop    chan struct{}
	started time.Time
}

// NewManager constructs a manager. Zero grace and tick fall back to the
// defaults; tests inject short durations.
func NewManager(grace, tick time.Duration, hooks Hooks, logger zerolog.Logger) *Manager {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Manager{
		grace:  grace,
		tick:   tick,
		hooks:  hooks,
		logger: logger,
	}
}

// Pending returns the in-flight delete, if any.
func (m *Manager) Pending() (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Pending{}, false
	}
	return m.current.pending, true
}

// Begin starts a delete transaction for p. A prior pending delete is
// committed immediately first, so at most one is ever in flight.
func (m *Manager) Begin(p Pending) {
	m.mu.Lock()
	prior := m.detachLocked()
	tx := &transaction{
		pending: p,
		timer:   time.NewTimer(m.grace),
		ticker:  time.NewTicker(m.tick),
		stop:    make(chan struct{}),
		started: time.Now(),
	}
	m.current = tx
	m.mu.Unlock()

	if prior != nil {
		m.commit(prior.pending)
	}
	go m.run(tx)
}

// Undo cancels the pending delete and puts the row back at its original
// position, restoring the selection when the deleted conversation was
// the active one.
func (m *Manager) Undo() error {
	m.mu.Lock()
	tx := m.detachLocked()
	m.mu.Unlock()

	if tx == nil {
		return ErrNothingPending
	}
	if m.hooks.Restore != nil {
		m.hooks.Restore(tx.pending, tx.pending.WasActive)
	}
	if m.hooks.OnResolved != nil {
		m.hooks.OnResolved(tx.pending.Meta.ID, OutcomeUndone)
	}
	return nil
}

// DeleteNow skips the rest of the grace period and commits immediately.
func (m *Manager) DeleteNow() error {
	m.mu.Lock()
	tx := m.detachLocked()
	m.mu.Unlock()

	if tx == nil {
		return ErrNothingPending
	}
	m.commit(tx.pending)
	return nil
}

// Flush commits any pending delete. Called on shutdown so a delete the
// user never undid is not silently lost.
func (m *Manager) Flush() {
	if err := m.DeleteNow(); err != nil && !errors.Is(err, ErrNothingPending) {
		m.logger.Warn().Err(err).Msg("flushing pending delete failed")
	}
}

// detachLocked stops the current transaction's clocks and removes it.
func (m *Manager) detachLocked() *transaction {
	tx := m.current
	if tx == nil {
		return nil
	}
	m.current = nil
	tx.timer.Stop()
	tx.ticker.Stop()
	close(tx.stop)
	return tx
}

func (m *Manager) run(tx *transaction) {
	for {
		select {
		case <-tx.stop:
			return
		case <-tx.ticker.C:
			if m.hooks.OnTick == nil {
				continue
			}
			remaining := m.grace - time.Since(tx.started)
			if remaining < 0 {
				remaining = 0
			}
			m.hooks.OnTick(tx.pending.Meta.ID, remaining)
		case <-tx.timer.C:
			m.mu.Lock()
			if m.current == tx {
				m.detachLocked()
				m.mu.Unlock()
				m.commit(tx.pending)
				return
			}
			m.mu.Unlock()
			return
		}
	}
}

// commit performs the server delete. On failure the row goes back into
// the list at its old position but the selection stays where it is.
func (m *Manager) commit(p Pending) {
	var err error
	if m.hooks.Commit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = m.hooks.Commit(ctx, p.Meta.ID)
		cancel()
	}
	if err != nil {
		m.logger.Error().
			Str("conversation_id", p.Meta.ID).
			Err(err).
			Msg("delete commit failed, restoring row")
		if m.hooks.Restore != nil {
			m.hooks.Restore(p, false)
		}
		if m.hooks.OnResolved != nil {
			m.hooks.OnResolved(p.Meta.ID, OutcomeRolledBack)
		}
		return
	}
	if m.hooks.OnResolved != nil {
		m.hooks.OnResolved(p.Meta.ID, OutcomeCommitted)
	}
}

// Reinsert puts a pending row back into metas at its original index,
// clamped to the current length since the list may have shrunk while
// the delete was pending.
func Reinsert(metas []council.Meta, p Pending) []council.Meta {
	index := p.Index
	if index < 0 {
		index = 0
	}
	if index > len(metas) {
		index = len(metas)
	}
	out := make([]council.Meta, 0, len(metas)+1)
	out = append(out, metas[:index]...)
	out = append(out, p.Meta)
	out = append(out, metas[index:]...)
	return out
}

// RemoveAt drops the row at index and returns the removed meta.
func RemoveAt(metas []council.Meta, index int) ([]council.Meta, council.Meta, bool) {
	if index < 0 || index >= len(metas) {
		return metas, council.Meta{}, false
	}
	removed := metas[index]
	out := make([]council.Meta, 0, len(metas)-1)
	out = append(out, metas[:index]...)
	out = append(out, metas[index+1:]...)
	return out, removed, true
}
