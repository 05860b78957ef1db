// Package transfer holds the per-command sessions that stream files between
// the control system and the satellite in chunks.
package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/beeper/groundstation-gateway/internal/protocol"
)

const (
	UplinkLabel   = "File Chunks Sent"
	DownlinkLabel = "File chunks downlinked"
)

type Sender interface {
	Send(ctx context.Context, msg any) error
}

// EstimateMax is the soft chunk total reported while the real total is unknown.
func EstimateMax(chunks int) int {
	return max(10, chunks+2)
}

// Uplink forwards every Write to the link as one numbered chunk.
type Uplink struct {
	ctx     context.Context
	id      string
	link    Sender
	onChunk func(sent int)

	mu   sync.Mutex
	sent int
}

func NewUplink(ctx context.Context, id string, link Sender, onChunk func(sent int)) *Uplink {
	return &Uplink{ctx: ctx, id: id, link: link, onChunk: onChunk}
}

func (u *Uplink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data := make([]byte, len(p))
	copy(data, p)

	u.mu.Lock()
	defer u.mu.Unlock()

	seq := u.sent + 1
	if err := u.link.Send(u.ctx, protocol.NewUplinkChunk(u.id, seq, data)); err != nil {
		return 0, fmt.Errorf("send chunk %d: %w", seq, err)
	}
	u.sent = seq
	if u.onChunk != nil {
		u.onChunk(seq)
	}
	return len(p), nil
}

// Sent returns the number of chunks delivered to the link.
func (u *Uplink) Sent() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sent
}

// Finish sends the end-of-transfer marker.
func (u *Uplink) Finish() error {
	if err := u.link.Send(u.ctx, protocol.NewUplinkEnded(u.id)); err != nil {
		return fmt.Errorf("send end of transfer: %w", err)
	}
	return nil
}
