package antenna

import (
	"context"
	"time"

	"github.com/beeper/groundstation-gateway/internal/tasks"
)

const awaitingAck = "awaiting satellite ack"

var carrierPhases = []string{
	"checking for sideband traffic",
	"broadcasting callsign and net clear",
	"initiating carrier frequency",
	awaitingAck,
}

// Carrier broadcasts the carrier signal until MaxWait has elapsed, then reports
// completion. It has no failure mode of its own.
type Carrier struct {
	Interval time.Duration
	MaxWait  time.Duration
}

func (Carrier) Name() string { return "carrier broadcast" }

func (c Carrier) Run(ctx context.Context, report tasks.Reporter) error {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	var waited time.Duration
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if waited >= c.MaxWait {
			report(tasks.Progress{Current: 100, Max: 100, Label: awaitingAck, Status: awaitingAck})
			return nil
		}
		phase := awaitingAck
		if i < len(carrierPhases) {
			phase = carrierPhases[i]
		}
		report(tasks.Progress{Current: (i + 1) * 10, Max: 100, Label: phase, Status: phase})
		waited += c.Interval
	}
}
