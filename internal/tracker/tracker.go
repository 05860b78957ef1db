// Package tracker keeps the lifecycle state of in-flight commands and rejects
// transitions that would revisit an earlier state or follow a terminal one.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beeper/groundstation-gateway/internal/protocol"
)

var (
	// ErrTerminal is returned for any update to a command that already completed or failed.
	ErrTerminal = errors.New("command already reached a terminal state")
	// ErrRegression is returned when an update moves a command back to an earlier state.
	ErrRegression = errors.New("command state regression")
	// ErrDuplicate is returned by Begin when the id is already in flight.
	ErrDuplicate = errors.New("command id already in flight")
	// ErrInvalidState is returned for states outside the known set.
	ErrInvalidState = errors.New("unknown command state")
)

// Entry is the tracked view of one in-flight command.
type Entry struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type,omitempty"`
	State     protocol.CommandState  `json:"state"`
	StartedAt time.Time              `json:"started_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Last      protocol.CommandStatus `json:"last"`
	// Adopted entries were first seen on the link, not begun by the gateway.
	Adopted bool `json:"adopted,omitempty"`
}

type Tracker struct {
	mu       sync.Mutex
	active   map[string]*Entry
	finished map[string]protocol.CommandState
	order    []string
	limit    int
	now      func() time.Time
}

// New creates a tracker remembering up to limit finished ids.
func New(limit int) *Tracker {
	if limit <= 0 {
		limit = 1024
	}
	return &Tracker{
		active:   make(map[string]*Entry),
		finished: make(map[string]protocol.CommandState),
		limit:    limit,
		now:      time.Now,
	}
}

// Begin registers a command received from the control system.
func (t *Tracker) Begin(cmd protocol.Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[cmd.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, cmd.ID)
	}
	// A reused id starts a new execution.
	delete(t.finished, cmd.ID)

	now := t.now()
	t.active[cmd.ID] = &Entry{
		ID:        cmd.ID,
		Type:      cmd.Type,
		State:     protocol.StatePreparingOnGateway,
		StartedAt: now,
		UpdatedAt: now,
		Last:      protocol.Status(cmd.ID, protocol.StatePreparingOnGateway),
	}
	return nil
}

// Apply validates and records a transition. Updates for ids that were never
// begun are adopted so link-originated lifecycles are still tracked.
func (t *Tracker) Apply(status protocol.CommandStatus) error {
	if !status.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, status.State)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if final, ok := t.finished[status.ID]; ok {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, status.ID, final)
	}

	now := t.now()
	entry, ok := t.active[status.ID]
	if !ok {
		entry = &Entry{ID: status.ID, State: status.State, StartedAt: now, Adopted: true}
		t.active[status.ID] = entry
		t.capAdopted(status.ID)
	} else if status.State.Rank() < entry.State.Rank() {
		return fmt.Errorf("%w: %s from %s to %s", ErrRegression, status.ID, entry.State, status.State)
	}

	entry.State = status.State
	entry.UpdatedAt = now
	entry.Last = status

	if status.State.IsTerminal() {
		delete(t.active, status.ID)
		t.remember(status.ID, status.State)
	}
	return nil
}

// capAdopted evicts the least recently updated adopted entries so that no
// more than limit remain, counting the newly adopted id.
func (t *Tracker) capAdopted(newest string) {
	var adopted []*Entry
	for id, entry := range t.active {
		if entry.Adopted && id != newest {
			adopted = append(adopted, entry)
		}
	}
	if len(adopted) < t.limit {
		return
	}
	sort.Slice(adopted, func(i, j int) bool { return adopted[i].UpdatedAt.Before(adopted[j].UpdatedAt) })
	for _, entry := range adopted[:len(adopted)-t.limit+1] {
		delete(t.active, entry.ID)
	}
}

// Prune forgets adopted entries that saw no update for longer than idle and
// returns their ids. Commands begun by the gateway are never pruned.
func (t *Tracker) Prune(idle time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-idle)
	var pruned []string
	for id, entry := range t.active {
		if entry.Adopted && entry.UpdatedAt.Before(cutoff) {
			delete(t.active, id)
			pruned = append(pruned, id)
		}
	}
	sort.Strings(pruned)
	return pruned
}

func (t *Tracker) remember(id string, state protocol.CommandState) {
	t.finished[id] = state
	t.order = append(t.order, id)
	for len(t.order) > t.limit {
		oldest := t.order[0]
		t.order = t.order[1:]
		// The id may have been reused and finished again since.
		if !t.stillQueued(oldest) {
			delete(t.finished, oldest)
		}
	}
}

func (t *Tracker) stillQueued(id string) bool {
	for _, queued := range t.order {
		if queued == id {
			return true
		}
	}
	return false
}

// Get returns the current entry for an in-flight command.
func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.active[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Finished returns the terminal state of a recently finished command.
func (t *Tracker) Finished(id string) (protocol.CommandState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.finished[id]
	return state, ok
}

// Active returns all in-flight commands ordered by start time.
func (t *Tracker) Active() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(t.active))
	for _, entry := range t.active {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].StartedAt.Equal(entries[j].StartedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
	return entries
}

// Drop forgets an in-flight command without recording a terminal state.
func (t *Tracker) Drop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}

// Len returns the number of in-flight commands.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
