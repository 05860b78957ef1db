// Package link carries messages between the gateway and the satellite over NATS.
package link

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Subjects name the two directions of the link. Uplink flows from the gateway
// to the satellite.
type Subjects struct {
	Uplink   string
	Downlink string
}

func DefaultSubjects() Subjects {
	return Subjects{Uplink: "groundstation.uplink", Downlink: "groundstation.downlink"}
}

// Reversed returns the subjects as seen from the satellite.
func (s Subjects) Reversed() Subjects {
	return Subjects{Uplink: s.Downlink, Downlink: s.Uplink}
}

type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type NATS struct {
	log      zerolog.Logger
	nc       Conn
	subjects Subjects
}

func NewNATS(nc Conn, subjects Subjects) *NATS {
	return &NATS{
		log:      log.With().Str("component", "link").Str("uplink", subjects.Uplink).Logger(),
		nc:       nc,
		subjects: subjects,
	}
}

// Send encodes msg as JSON and publishes it on the uplink subject.
func (l *NATS) Send(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode link message: %w", err)
	}
	if err := l.nc.Publish(l.subjects.Uplink, data); err != nil {
		return fmt.Errorf("publish %s: %w", l.subjects.Uplink, err)
	}
	return nil
}

// Start delivers every payload published on the downlink subject to handler
// until ctx is done.
func (l *NATS) Start(ctx context.Context, handler func(data []byte)) error {
	sub, err := l.nc.Subscribe(l.subjects.Downlink, func(msg *nats.Msg) {
		l.log.Debug().
			Str("subject", msg.Subject).
			Int("size", len(msg.Data)).
			Msg("Received link message")
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.subjects.Downlink, err)
	}
	l.log.Info().Str("downlink", l.subjects.Downlink).Msg("Link subscriber started")

	<-ctx.Done()

	sub.Unsubscribe()
	return ctx.Err()
}
