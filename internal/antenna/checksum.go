package antenna

import (
	"context"
	"fmt"
	"time"

	"github.com/beeper/groundstation-gateway/internal/tasks"
	"github.com/beeper/groundstation-gateway/internal/util"
)

// Checksum produces the validity token that closes a connect sequence.
type Checksum struct {
	Latency time.Duration
	Seed    func() (float64, error)
	Now     func() time.Time

	token string
}

func (*Checksum) Name() string { return "checksum validation" }

func (c *Checksum) Run(ctx context.Context, report tasks.Reporter) error {
	report(tasks.Progress{Status: "calculating checksum"})

	timer := time.NewTimer(c.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	seed := c.Seed
	if seed == nil {
		seed = util.RandomFraction
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	s, err := seed()
	if err != nil {
		return fmt.Errorf("seed checksum: %w", err)
	}

	c.token = fmt.Sprintf("VALID::%.4f", s*float64(now().UnixMilli()))
	report(tasks.Progress{Status: "resolved check value"})
	return nil
}

// Token returns the token computed by the last successful Run.
func (c *Checksum) Token() string { return c.token }
