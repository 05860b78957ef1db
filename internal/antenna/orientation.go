package antenna

import (
	"context"
	"fmt"
	"time"

	"github.com/beeper/groundstation-gateway/internal/tasks"
	"github.com/beeper/groundstation-gateway/internal/util"
)

const OrientationLabel = "Antenna degrees rotated"

// Orientation rotates the antenna towards a target angle in fixed increments.
// Progress reports degrees rotated against the total rotation.
type Orientation struct {
	Interval time.Duration
	Step     int
	MaxAngle int
	// Target picks the rotation; defaults to a uniform draw from [0, MaxAngle].
	Target func() (int, error)
}

func (Orientation) Name() string { return "antenna orientation" }

func (o Orientation) Run(ctx context.Context, report tasks.Reporter) error {
	pick := o.Target
	if pick == nil {
		pick = func() (int, error) { return util.RandomInt(0, o.MaxAngle) }
	}
	target, err := pick()
	if err != nil {
		return fmt.Errorf("pick orientation target: %w", err)
	}
	if o.Step <= 0 {
		return fmt.Errorf("invalid rotation step %d", o.Step)
	}

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()

	rotated := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if rotated >= target {
			report(tasks.Progress{Current: target, Max: target, Label: OrientationLabel})
			return nil
		}
		rotated = min(rotated+o.Step, target)
		report(tasks.Progress{Current: rotated, Max: target, Label: OrientationLabel})
	}
}
