package tracker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/beeper/groundstation-gateway/internal/protocol"
)

func TestLifecycle(t *testing.T) {
	tr := New(10)
	cmd := protocol.Command{ID: "c1", Type: "ping"}

	if err := tr.Begin(cmd); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tr.Begin(cmd); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Begin() error = %v, want ErrDuplicate", err)
	}

	steps := []protocol.CommandState{
		protocol.StateUplinkingToSystem,
		protocol.StateTransmittedToSystem,
		protocol.StateAckedBySystem,
		protocol.StateAckedBySystem,
		protocol.StateCompleted,
	}
	for _, state := range steps {
		if err := tr.Apply(protocol.Status("c1", state)); err != nil {
			t.Fatalf("Apply(%s) error = %v", state, err)
		}
	}

	if _, ok := tr.Get("c1"); ok {
		t.Error("completed command still active")
	}
	if state, ok := tr.Finished("c1"); !ok || state != protocol.StateCompleted {
		t.Errorf("Finished() = %s, %v", state, ok)
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	tr := New(10)
	_ = tr.Begin(protocol.Command{ID: "c1", Type: "ping"})

	if err := tr.Apply(protocol.Status("c1", protocol.StateFailed)); err != nil {
		t.Fatalf("Apply(failed) error = %v", err)
	}
	for _, state := range []protocol.CommandState{protocol.StateCompleted, protocol.StateExecutingOnSystem, protocol.StateFailed} {
		if err := tr.Apply(protocol.Status("c1", state)); !errors.Is(err, ErrTerminal) {
			t.Errorf("Apply(%s) after failure error = %v, want ErrTerminal", state, err)
		}
	}
}

func TestRegressionRejected(t *testing.T) {
	tr := New(10)
	_ = tr.Begin(protocol.Command{ID: "c1", Type: "uplink_file"})
	_ = tr.Apply(protocol.Status("c1", protocol.StateExecutingOnSystem))

	err := tr.Apply(protocol.Status("c1", protocol.StateTransmittedToSystem))
	if !errors.Is(err, ErrRegression) {
		t.Fatalf("Apply() error = %v, want ErrRegression", err)
	}
	entry, _ := tr.Get("c1")
	if entry.State != protocol.StateExecutingOnSystem {
		t.Errorf("state = %s, want executing_on_system", entry.State)
	}
}

func TestUnknownIDAdoptedAndInvalidStateRejected(t *testing.T) {
	tr := New(10)
	if err := tr.Apply(protocol.Status("link-1", protocol.StateExecutingOnSystem)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(tr.Active()) != 1 {
		t.Errorf("expected adopted command to be active")
	}
	if err := tr.Apply(protocol.Status("link-1", "sideways")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Apply(sideways) error = %v, want ErrInvalidState", err)
	}
}

func TestTombstonesAreBounded(t *testing.T) {
	tr := New(2)
	for _, id := range []string{"a", "b", "c"} {
		_ = tr.Begin(protocol.Command{ID: id})
		_ = tr.Apply(protocol.Status(id, protocol.StateCompleted))
	}
	if _, ok := tr.Finished("a"); ok {
		t.Error("oldest tombstone should have been evicted")
	}
	if _, ok := tr.Finished("c"); !ok {
		t.Error("newest tombstone missing")
	}
}

func TestReusedIDStartsNewExecution(t *testing.T) {
	tr := New(10)
	_ = tr.Begin(protocol.Command{ID: "c1"})
	_ = tr.Apply(protocol.Status("c1", protocol.StateCompleted))

	if err := tr.Begin(protocol.Command{ID: "c1"}); err != nil {
		t.Fatalf("Begin() on reused id error = %v", err)
	}
	if err := tr.Apply(protocol.Status("c1", protocol.StateUplinkingToSystem)); err != nil {
		t.Errorf("Apply() on reused id error = %v", err)
	}
}

func TestDrop(t *testing.T) {
	tr := New(10)
	_ = tr.Begin(protocol.Command{ID: "c1", Type: "dance"})
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
	tr.Drop("c1")
	if _, ok := tr.Get("c1"); ok || tr.Len() != 0 {
		t.Error("dropped command still tracked")
	}
	if _, ok := tr.Finished("c1"); ok {
		t.Error("dropped command left a tombstone")
	}
}

func TestPruneForgetsIdleAdoptedEntries(t *testing.T) {
	tr := New(10)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	_ = tr.Begin(protocol.Command{ID: "mine", Type: "connect"})
	_ = tr.Apply(protocol.Status("stale", protocol.StateExecutingOnSystem))
	now = now.Add(5 * time.Minute)
	_ = tr.Apply(protocol.Status("fresh", protocol.StateAckedBySystem))
	now = now.Add(time.Hour)
	_ = tr.Apply(protocol.Status("fresh", protocol.StateExecutingOnSystem))

	pruned := tr.Prune(30 * time.Minute)
	if len(pruned) != 1 || pruned[0] != "stale" {
		t.Fatalf("Prune() = %v, want [stale]", pruned)
	}
	if _, ok := tr.Get("mine"); !ok {
		t.Error("command begun by the gateway was pruned")
	}
	if entry, ok := tr.Get("fresh"); !ok || !entry.Adopted {
		t.Errorf("fresh entry = %+v, %v", entry, ok)
	}
	if _, ok := tr.Finished("stale"); ok {
		t.Error("pruned entry left a tombstone")
	}
}

func TestAdoptedEntriesAreCapped(t *testing.T) {
	tr := New(3)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	_ = tr.Begin(protocol.Command{ID: "mine", Type: "ping"})
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		_ = tr.Apply(protocol.Status(fmt.Sprintf("sat-%d", i), protocol.StateExecutingOnSystem))
	}

	if tr.Len() != 4 {
		t.Fatalf("Len() = %d, want 3 adopted plus 1 begun", tr.Len())
	}
	for _, id := range []string{"sat-0", "sat-1"} {
		if _, ok := tr.Get(id); ok {
			t.Errorf("%s should have been evicted", id)
		}
	}
	for _, id := range []string{"mine", "sat-4"} {
		if _, ok := tr.Get(id); !ok {
			t.Errorf("%s missing", id)
		}
	}
}
