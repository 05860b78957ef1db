package antenna

import (
	"context"
	"time"

	"github.com/beeper/groundstation-gateway/internal/tasks"
)

var hardwarePhases = []string{
	"actuator power cycle",
	"gimballing hardware",
	"hardware clearance check",
	"radio power cycle",
	"digesting tle",
	"computing pass angles",
	"translating pass trajectory",
	"calibrating radio oscillator",
	"refining radio frequency",
	"finishing pass prep",
}

// GroundHardware walks through the pass preparation phases, one per tick.
type GroundHardware struct {
	Interval time.Duration
}

func (GroundHardware) Name() string { return "ground hardware preparation" }

func (h GroundHardware) Run(ctx context.Context, report tasks.Reporter) error {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	last := len(hardwarePhases) - 1
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if i > last {
			report(tasks.Progress{Current: 100, Max: 100, Label: "done", Status: "done"})
			return nil
		}
		phase := hardwarePhases[i]
		report(tasks.Progress{Current: i * 100 / last, Max: 100, Label: phase, Status: phase})
	}
}
