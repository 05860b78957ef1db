package gateway

import (
	"context"
	"errors"

	"github.com/beeper/groundstation-gateway/internal/antenna"
	"github.com/beeper/groundstation-gateway/internal/handshake"
	"github.com/beeper/groundstation-gateway/internal/metrics"
	"github.com/beeper/groundstation-gateway/internal/protocol"
	"github.com/beeper/groundstation-gateway/internal/tasks"
)

// connect prepares the ground station and establishes synchronized contact
// with the satellite: hardware preparation and antenna orientation run
// together, then carrier broadcast, handshake and checksum validation follow
// one after another.
func (d *Dispatcher) connect(s *session) {
	id := s.cmd.ID
	t := d.timing

	progress1 := func(p tasks.Progress) {
		status := protocol.Status(id, protocol.StatePreparingOnGateway).WithProgress1(p.Current, p.Max, p.Label)
		d.emitLater(s, status.WithStatus(p.Status))
	}
	progress2 := func(p tasks.Progress) {
		d.emitLater(s, protocol.Status(id, protocol.StatePreparingOnGateway).WithProgress2(p.Current, p.Max, p.Label))
	}
	checksumStatus := func(p tasks.Progress) {
		d.emitLater(s, protocol.Status(id, protocol.StateProcessingOnGateway).WithStatus(p.Status))
	}

	checksum := &antenna.Checksum{Latency: t.ChecksumLatency}
	synchronize := tasks.Func{TaskName: "carrier synchronization", Fn: func(ctx context.Context, _ tasks.Reporter) error {
		artifact, err := d.syncCarrier(ctx, s)
		if err != nil {
			return err
		}
		s.log.Info().Str("artifact", artifact).Msg("Carrier synchronized with satellite")
		return nil
	}}

	err := d.runner.Run(s.ctx,
		tasks.Stage{
			{Task: antenna.GroundHardware{Interval: t.HardwareTick}, Report: progress1},
			{Task: antenna.Orientation{
				Interval: t.OrientTick,
				Step:     t.OrientStep,
				MaxAngle: t.OrientMaxAngle,
				Target:   d.orientTarget,
			}, Report: progress2},
		},
		tasks.Stage{{Task: antenna.Carrier{Interval: t.CarrierTick, MaxWait: t.CarrierMaxWait}, Report: progress1}},
		tasks.Stage{{Task: synchronize}},
		tasks.Stage{{Task: checksum, Report: checksumStatus}},
	)
	if err != nil {
		s.log.Debug().Err(err).Msg("Connect sequence stopped")
		var taskErr *tasks.Error
		if errors.As(err, &taskErr) {
			err = taskErr.Err
		}
		d.failLater(s, err)
		return
	}

	status := protocol.Status(id, protocol.StateCompleted)
	status.Payload = "Checksum: " + checksum.Token()
	d.emitLater(s, status)
}

// syncCarrier runs the challenge/response exchange for s, mirroring its progress
// into the command's lifecycle.
func (d *Dispatcher) syncCarrier(ctx context.Context, s *session) (string, error) {
	id := s.cmd.ID
	listener, err := d.listen(s)
	if err != nil {
		return "", err
	}

	d.emitLater(s, protocol.Status(id, protocol.StateUplinkingToSystem))
	hs := handshake.New(d.link, handshake.Config{
		MaxAttempts: d.timing.HandshakeAttempts,
		Interval:    d.timing.HandshakeInterval,
	}, handshake.Hooks{
		Sent: func(attempt, max int) {
			metrics.HandshakeAttempts.Inc()
			if attempt == 1 {
				d.emitLater(s, protocol.Status(id, protocol.StateTransmittedToSystem))
			}
		},
		Acknowledged: func() {
			d.emitLater(s, protocol.Status(id, protocol.StateAckedBySystem))
		},
		Response: func(attempt, max int) {
			d.emitLater(s, protocol.Status(id, protocol.StateDownlinkingFromSystem).WithProgress1(attempt, max, ""))
		},
	})

	artifact, err := hs.Run(ctx, listener)
	switch {
	case err == nil:
		metrics.HandshakeResults.WithLabelValues("synchronized").Inc()
	case errors.Is(err, handshake.ErrNotSynchronized):
		metrics.HandshakeResults.WithLabelValues("not_synchronized").Inc()
	case errors.Is(err, handshake.ErrNoContact):
		metrics.HandshakeResults.WithLabelValues("no_contact").Inc()
	default:
		metrics.HandshakeResults.WithLabelValues("error").Inc()
	}
	return artifact, err
}

// pongListener receives checksum pongs on behalf of one handshake.
type pongListener struct {
	d  *Dispatcher
	id string
	ch chan string
}

func (d *Dispatcher) listen(s *session) (*pongListener, error) {
	l := &pongListener{d: d, id: s.cmd.ID, ch: make(chan string, 16)}
	err := d.post(func() {
		if !s.closed {
			d.pongs[l.id] = l.ch
		}
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *pongListener) Responses() <-chan string { return l.ch }

func (l *pongListener) Close() {
	_ = l.d.post(func() {
		if l.d.pongs[l.id] == l.ch {
			delete(l.d.pongs, l.id)
		}
	})
}
