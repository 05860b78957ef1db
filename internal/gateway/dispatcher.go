// Package gateway routes commands from the control system and updates from the
// satellite link. A single loop goroutine owns all routing; handlers that wait
// on timers or I/O run on their own goroutines and hand their updates back to
// the loop, so the updates of one command reach the control system in the
// order its handler issued them.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beeper/groundstation-gateway/internal/metrics"
	"github.com/beeper/groundstation-gateway/internal/protocol"
	"github.com/beeper/groundstation-gateway/internal/tasks"
	"github.com/beeper/groundstation-gateway/internal/tracker"
	"github.com/beeper/groundstation-gateway/internal/transfer"
)

// Diagnostic event types.
const (
	EventFormatError   = "formatError"
	EventCommandError  = "commandError"
	EventUpdateError   = "updateError"
	EventTransferError = "transferError"
)

// Link sends messages to the satellite.
type Link interface {
	Send(ctx context.Context, msg any) error
}

// Control is the control-system side of the gateway.
type Control interface {
	TransmitCommandUpdate(ctx context.Context, status protocol.CommandStatus) error
	TransmitMetrics(ctx context.Context, measurements []protocol.Measurement) error
	TransmitEvents(ctx context.Context, events ...protocol.Event) error
	Transmit(ctx context.Context, raw json.RawMessage) error
	DownloadStagedFile(ctx context.Context, path string, w io.Writer) error
	UploadDownlinkedFile(ctx context.Context, file protocol.FileUpload) error
}

// Timing holds the pacing of the simulated hardware and the handshake.
type Timing struct {
	HardwareTick      time.Duration
	OrientTick        time.Duration
	OrientStep        int
	OrientMaxAngle    int
	CarrierTick       time.Duration
	CarrierMaxWait    time.Duration
	HandshakeInterval time.Duration
	HandshakeAttempts int
	ChecksumLatency   time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		HardwareTick:      1700 * time.Millisecond,
		OrientTick:        200 * time.Millisecond,
		OrientStep:        3,
		OrientMaxAngle:    268,
		CarrierTick:       time.Second,
		CarrierMaxWait:    6 * time.Second,
		HandshakeInterval: time.Second,
		HandshakeAttempts: 10,
		ChecksumLatency:   1500 * time.Millisecond,
	}
}

type Option func(*Dispatcher)

func WithTiming(timing Timing) Option {
	return func(d *Dispatcher) { d.timing = timing }
}

// WithStagingDir sets where downlinked files are accumulated before upload.
func WithStagingDir(dir string) Option {
	return func(d *Dispatcher) { d.staging = dir }
}

// WithTombstones sets how many finished command ids are remembered.
func WithTombstones(limit int) Option {
	return func(d *Dispatcher) { d.tombstones = limit }
}

// WithAdoptedIdle sets how long a command first seen on the link may go
// without an update before it is no longer reported as in flight.
func WithAdoptedIdle(idle time.Duration) Option {
	return func(d *Dispatcher) { d.adoptedIdle = idle }
}

func WithOrientationTarget(target func() (int, error)) Option {
	return func(d *Dispatcher) { d.orientTarget = target }
}

// session is the gateway-side execution of one command. Only the loop
// goroutine reads or writes closed.
type session struct {
	cmd    protocol.Command
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

type Dispatcher struct {
	log     zerolog.Logger
	link    Link
	control Control
	tracker *tracker.Tracker
	runner  *tasks.Runner

	timing       Timing
	staging      string
	tombstones   int
	adoptedIdle  time.Duration
	orientTarget func() (int, error)

	ctx     context.Context
	actions chan func()
	stopped chan struct{}

	// Owned by the loop goroutine.
	sessions  map[string]*session
	downlinks map[string]*transfer.Downlink
	pongs     map[string]chan string
}

func New(link Link, control Control, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:         log.With().Str("component", "gateway").Logger(),
		link:        meteredLink{link},
		control:     control,
		runner:      tasks.NewRunner(),
		timing:      DefaultTiming(),
		staging:     filepath.Join(os.TempDir(), "groundstation-gateway"),
		tombstones:  1024,
		adoptedIdle: 15 * time.Minute,
		ctx:         context.Background(),
		actions:     make(chan func(), 256),
		stopped:     make(chan struct{}),
		sessions:    make(map[string]*session),
		downlinks:   make(map[string]*transfer.Downlink),
		pongs:       make(map[string]chan string),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.adoptedIdle <= 0 {
		d.adoptedIdle = 15 * time.Minute
	}
	d.tracker = tracker.New(d.tombstones)
	return d
}

// Run routes commands and link updates until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.ctx = ctx
	defer close(d.stopped)

	prune := time.NewTicker(d.adoptedIdle / 2)
	defer prune.Stop()

	d.log.Info().Str("staging_dir", d.staging).Msg("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return ctx.Err()
		case action := <-d.actions:
			action()
		case <-prune.C:
			d.pruneAdopted()
		}
	}
}

// pruneAdopted stops tracking link-originated commands that went quiet
// without reaching a terminal state.
func (d *Dispatcher) pruneAdopted() {
	pruned := d.tracker.Prune(d.adoptedIdle)
	if len(pruned) == 0 {
		return
	}
	metrics.InFlightCommands.Set(float64(d.tracker.Len()))
	d.log.Info().Strs("command_ids", pruned).Dur("idle", d.adoptedIdle).Msg("Stopped tracking idle link commands")
}

func (d *Dispatcher) shutdown() {
	for id, s := range d.sessions {
		s.closed = true
		s.cancel()
		delete(d.sessions, id)
	}
	for id, dl := range d.downlinks {
		if err := dl.Remove(); err != nil {
			d.log.Warn().Err(err).Str("command_id", id).Msg("Failed to remove staged downlink")
		}
		delete(d.downlinks, id)
	}
	clear(d.pongs)
	d.log.Info().Msg("Dispatcher stopped")
}

func (d *Dispatcher) post(action func()) error {
	select {
	case d.actions <- action:
		return nil
	case <-d.stopped:
		return ErrStopped
	}
}

// SubmitCommand hands a command from the control system to the dispatcher.
func (d *Dispatcher) SubmitCommand(cmd protocol.Command) error {
	return d.post(func() { d.submit(cmd) })
}

// ReceiveLinkMessage hands a raw payload from the satellite link to the
// dispatcher. Payloads that cannot be decoded become formatError events.
func (d *Dispatcher) ReceiveLinkMessage(raw any) error {
	return d.post(func() { d.receive(raw) })
}

// Snapshot returns the commands that have not reached a terminal state.
func (d *Dispatcher) Snapshot() []tracker.Entry {
	return d.tracker.Active()
}

func (d *Dispatcher) submit(cmd protocol.Command) {
	logger := d.log.With().Str("command_id", cmd.ID).Str("command_type", cmd.Type).Logger()
	logger.Debug().Interface("command", cmd).Msg("Received command")
	metrics.CommandsReceived.WithLabelValues(commandLabel(cmd.Type)).Inc()

	if cmd.ID == "" {
		d.diagnose(protocol.Event{
			Type:    EventCommandError,
			Level:   protocol.LevelError,
			Message: fmt.Sprintf("Received a %s command without an id", cmd.Type),
		})
		return
	}
	if err := d.tracker.Begin(cmd); err != nil {
		logger.Warn().Err(err).Msg("Rejected command")
		d.diagnose(protocol.Event{
			Type:    EventCommandError,
			Level:   protocol.LevelError,
			Message: fmt.Sprintf("Command %s is already in progress", cmd.ID),
		})
		return
	}

	ctx, cancel := context.WithCancel(d.ctx)
	s := &session{cmd: cmd, log: logger, ctx: ctx, cancel: cancel}
	d.sessions[cmd.ID] = s

	d.emit(s, protocol.Status(cmd.ID, protocol.StatePreparingOnGateway))

	switch cmd.Type {
	case "ping", "telemetry", "update_file_list", "safemode":
		d.passthrough(s, protocol.LinkCommand{Command: cmd})
	case "uplink_file":
		d.uplink(s)
	case "downlink_file":
		d.downlink(s)
	case "connect":
		go d.connect(s)
	default:
		// Nothing will ever move the command on, so stop tracking it.
		d.tracker.Drop(cmd.ID)
		d.release(cmd.ID)
		metrics.InFlightCommands.Set(float64(d.tracker.Len()))
		d.diagnose(protocol.Event{
			Type:    EventCommandError,
			Level:   protocol.LevelError,
			Message: fmt.Sprintf("Gateway has no implementation for command type %s", cmd.Type),
		})
	}
}

// commandLabel bounds the metric label to the command types the gateway runs.
func commandLabel(commandType string) string {
	switch commandType {
	case "ping", "telemetry", "update_file_list", "safemode", "uplink_file", "downlink_file", "connect":
		return commandType
	}
	return "unknown"
}

func (d *Dispatcher) receive(raw any) {
	update, err := protocol.Decode(raw)
	if err != nil {
		received := fmt.Sprint(raw)
		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) {
			received = decodeErr.Received
		}
		d.diagnose(protocol.Event{
			Type:    EventFormatError,
			Level:   protocol.LevelError,
			Message: "There was a problem receiving downlinked data",
			Debug: map[string]any{
				"errors":   []string{"Received a payload from the link that was not recognizable", err.Error()},
				"received": received,
			},
		})
		return
	}

	metrics.LinkMessages.WithLabelValues("in", update.UpdateType()).Inc()
	d.log.Debug().Str("type", update.UpdateType()).Msg("Received link update")

	switch u := update.(type) {
	case protocol.CommandUpdate:
		d.publish(u.Command)
	case protocol.MeasurementsUpdate:
		if err := d.control.TransmitMetrics(d.ctx, u.Measurements); err != nil {
			d.log.Err(err).Int("count", len(u.Measurements)).Msg("Failed to transmit measurements")
		}
	case protocol.EventUpdate:
		if err := d.control.TransmitEvents(d.ctx, u.Event); err != nil {
			d.log.Err(err).Str("event_type", u.Event.Type).Msg("Failed to transmit event")
		}
	case protocol.Passthrough:
		if err := d.control.Transmit(d.ctx, u.Raw); err != nil {
			d.log.Err(err).Str("type", u.Type).Msg("Failed to transmit update")
		}
	case protocol.FileContents:
		d.receiveFileContents(u)
	case protocol.ChecksumPong:
		d.receivePong(u)
	case protocol.Unknown:
		d.unrecognized(u.Raw)
	default:
		d.unrecognized(update)
	}
}

func (d *Dispatcher) unrecognized(debug any) {
	d.diagnose(protocol.Event{
		Type:    EventUpdateError,
		Level:   protocol.LevelWarning,
		Message: "The gateway received an update that it did not understand",
		Debug:   debug,
	})
}

// emit publishes a status on behalf of the handler that owns s. Statuses from a
// session that has already closed are dropped.
func (d *Dispatcher) emit(s *session, status protocol.CommandStatus) {
	if s.closed {
		s.log.Debug().Str("state", string(status.State)).Msg("Dropped update from closed command")
		return
	}
	d.publish(status)
}

// emitLater is emit for handler goroutines.
func (d *Dispatcher) emitLater(s *session, status protocol.CommandStatus) {
	if err := d.post(func() { d.emit(s, status) }); err != nil {
		s.log.Debug().Err(err).Str("state", string(status.State)).Msg("Dropped update")
	}
}

func (d *Dispatcher) fail(s *session, err error) {
	s.log.Warn().Err(err).Msg("Command failed")
	status := protocol.Status(s.cmd.ID, protocol.StateFailed)
	status.Errors = errorList(err)
	d.emit(s, status)
}

func (d *Dispatcher) failLater(s *session, err error) {
	if postErr := d.post(func() { d.fail(s, err) }); postErr != nil {
		s.log.Warn().Err(err).Msg("Command failed after dispatcher stopped")
	}
}

// publish records a transition and forwards it to the control system.
func (d *Dispatcher) publish(status protocol.CommandStatus) {
	if err := d.tracker.Apply(status); err != nil {
		reason := "invalid_state"
		switch {
		case errors.Is(err, tracker.ErrTerminal):
			reason = "terminal"
		case errors.Is(err, tracker.ErrRegression):
			reason = "regression"
		}
		metrics.RejectedTransitions.WithLabelValues(reason).Inc()
		d.log.Warn().Err(err).
			Str("command_id", status.ID).
			Str("state", string(status.State)).
			Msg("Dropped command update")
		return
	}

	metrics.CommandTransitions.WithLabelValues(string(status.State)).Inc()
	if status.State.IsTerminal() {
		d.release(status.ID)
	}
	metrics.InFlightCommands.Set(float64(d.tracker.Len()))

	d.log.Debug().
		Str("command_id", status.ID).
		Str("state", string(status.State)).
		Msg("Command update")
	if err := d.control.TransmitCommandUpdate(d.ctx, status); err != nil {
		d.log.Err(err).Str("command_id", status.ID).Msg("Failed to transmit command update")
	}
}

// release closes the session of a finished command and drops every
// subscription held for its id.
func (d *Dispatcher) release(id string) {
	if s, ok := d.sessions[id]; ok {
		s.closed = true
		s.cancel()
		delete(d.sessions, id)
	}
	if dl, ok := d.downlinks[id]; ok {
		delete(d.downlinks, id)
		if err := dl.Remove(); err != nil {
			d.log.Warn().Err(err).Str("command_id", id).Msg("Failed to remove staged downlink")
		}
	}
	delete(d.pongs, id)
}

func (d *Dispatcher) diagnose(event protocol.Event) {
	metrics.DiagnosticEvents.WithLabelValues(event.Type).Inc()
	d.log.Warn().
		Str("event_type", event.Type).
		Str("level", event.Level).
		Msg(event.Message)
	if err := d.control.TransmitEvents(d.ctx, event); err != nil {
		d.log.Err(err).Str("event_type", event.Type).Msg("Failed to transmit event")
	}
}

// meteredLink counts messages sent to the satellite.
type meteredLink struct {
	Link
}

func (l meteredLink) Send(ctx context.Context, msg any) error {
	if err := l.Link.Send(ctx, msg); err != nil {
		return err
	}
	label := "command"
	if u, ok := msg.(protocol.Update); ok {
		label = u.UpdateType()
	}
	metrics.LinkMessages.WithLabelValues("out", label).Inc()
	return nil
}
