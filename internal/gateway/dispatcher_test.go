package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/beeper/groundstation-gateway/internal/metrics"
	"github.com/beeper/groundstation-gateway/internal/protocol"
)

// MockControl records everything the dispatcher sends to the control system.
type MockControl struct {
	Updates chan protocol.CommandStatus
	Events  chan protocol.Event
	Metrics chan []protocol.Measurement
	Raw     chan json.RawMessage

	DownloadFunc func(ctx context.Context, path string, w io.Writer) error
	UploadFunc   func(ctx context.Context, file protocol.FileUpload) error
}

func newMockControl() *MockControl {
	return &MockControl{
		Updates: make(chan protocol.CommandStatus, 1024),
		Events:  make(chan protocol.Event, 64),
		Metrics: make(chan []protocol.Measurement, 64),
		Raw:     make(chan json.RawMessage, 64),
	}
}

func (m *MockControl) TransmitCommandUpdate(ctx context.Context, status protocol.CommandStatus) error {
	m.Updates <- status
	return nil
}

func (m *MockControl) TransmitMetrics(ctx context.Context, measurements []protocol.Measurement) error {
	m.Metrics <- measurements
	return nil
}

func (m *MockControl) TransmitEvents(ctx context.Context, events ...protocol.Event) error {
	for _, e := range events {
		m.Events <- e
	}
	return nil
}

func (m *MockControl) Transmit(ctx context.Context, raw json.RawMessage) error {
	m.Raw <- raw
	return nil
}

func (m *MockControl) DownloadStagedFile(ctx context.Context, path string, w io.Writer) error {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, path, w)
	}
	return nil
}

func (m *MockControl) UploadDownlinkedFile(ctx context.Context, file protocol.FileUpload) error {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, file)
	}
	return nil
}

// until collects the updates for id up to and including the first one in state.
func (m *MockControl) until(t *testing.T, id string, state protocol.CommandState) []protocol.CommandStatus {
	t.Helper()
	var got []protocol.CommandStatus
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u := <-m.Updates:
			if u.ID != id {
				continue
			}
			got = append(got, u)
			if u.State == state {
				return got
			}
			if u.State.IsTerminal() {
				t.Fatalf("%s reached %s while waiting for %s: %+v", id, u.State, state, u)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s to reach %s, got %v", id, state, states(got))
		}
	}
}

func (m *MockControl) event(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case e := <-m.Events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return protocol.Event{}
}

func (m *MockControl) noUpdates(t *testing.T) {
	t.Helper()
	select {
	case u := <-m.Updates:
		t.Errorf("unexpected command update %+v", u)
	default:
	}
}

func states(updates []protocol.CommandStatus) []protocol.CommandState {
	out := make([]protocol.CommandState, len(updates))
	for i, u := range updates {
		out[i] = u.State
	}
	return out
}

// MockLink records what the dispatcher sends to the satellite. SendFunc runs
// after a message is recorded and may answer through the dispatcher.
type MockLink struct {
	mu       sync.Mutex
	sent     []any
	SendFunc func(msg any)
}

func (m *MockLink) Send(ctx context.Context, msg any) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	fn := m.SendFunc
	m.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
	return nil
}

func (m *MockLink) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

func startDispatcher(t *testing.T, link Link, control Control, opts ...Option) *Dispatcher {
	t.Helper()
	d := New(link, control, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

// reply delivers a link message the way the satellite would, off the caller's goroutine.
func reply(d *Dispatcher, msg string) {
	go d.ReceiveLinkMessage([]byte(msg))
}

func TestPingEndToEnd(t *testing.T) {
	control := newMockControl()
	link := &MockLink{}
	d := startDispatcher(t, link, control)
	link.SendFunc = func(msg any) {
		if cmd, ok := msg.(protocol.LinkCommand); ok && cmd.Type == "ping" {
			reply(d, fmt.Sprintf(`{"type":"command_update","command":{"id":%q,"state":"completed","payload":"pong"}}`, cmd.ID))
		}
	}

	d.SubmitCommand(protocol.Command{ID: "c1", Type: "ping"})
	got := control.until(t, "c1", protocol.StateCompleted)

	want := []protocol.CommandState{
		protocol.StatePreparingOnGateway,
		protocol.StateUplinkingToSystem,
		protocol.StateTransmittedToSystem,
		protocol.StateCompleted,
	}
	if fmt.Sprint(states(got)) != fmt.Sprint(want) {
		t.Fatalf("states = %v, want %v", states(got), want)
	}
	if got[3].Payload != "pong" {
		t.Errorf("payload = %q, want pong", got[3].Payload)
	}
	if sent := link.Sent(); len(sent) != 1 {
		t.Errorf("link messages = %d, want 1", len(sent))
	}
	if len(d.Snapshot()) != 0 {
		t.Errorf("finished command still in flight: %+v", d.Snapshot())
	}
}

func TestMissingRequiredFieldFailsWithoutLinkTraffic(t *testing.T) {
	for _, tc := range []struct {
		cmd     protocol.Command
		message string
	}{
		{
			cmd:     protocol.Command{ID: "u1", Type: "uplink_file"},
			message: "uplink_file failed because the value for gateway_download_path was not provided",
		},
		{
			cmd:     protocol.Command{ID: "d1", Type: "downlink_file", Fields: []protocol.Field{{Name: "filename", Value: ""}}},
			message: "No value received for field filename in downlink_file command",
		},
	} {
		control := newMockControl()
		link := &MockLink{}
		d := startDispatcher(t, link, control, WithStagingDir(t.TempDir()))

		d.SubmitCommand(tc.cmd)
		got := control.until(t, tc.cmd.ID, protocol.StateFailed)

		if len(got) != 2 || got[0].State != protocol.StatePreparingOnGateway {
			t.Errorf("%s: states = %v", tc.cmd.Type, states(got))
		}
		if errs := got[len(got)-1].Errors; len(errs) != 1 || errs[0] != tc.message {
			t.Errorf("%s: errors = %v", tc.cmd.Type, errs)
		}
		if sent := link.Sent(); len(sent) != 0 {
			t.Errorf("%s: sent %d link messages", tc.cmd.Type, len(sent))
		}
	}
}

func TestUplinkSendsEveryChunkThenEndMarker(t *testing.T) {
	control := newMockControl()
	control.DownloadFunc = func(ctx context.Context, path string, w io.Writer) error {
		if path != "staged/file.bin" {
			return fmt.Errorf("unexpected path %s", path)
		}
		for i := 0; i < 5; i++ {
			if _, err := w.Write([]byte{byte(i)}); err != nil {
				return err
			}
		}
		return nil
	}
	link := &MockLink{}
	d := startDispatcher(t, link, control)

	d.SubmitCommand(protocol.Command{
		ID:     "up",
		Type:   "uplink_file",
		Fields: []protocol.Field{{Name: "gateway_download_path", Value: "staged/file.bin"}},
	})
	got := control.until(t, "up", protocol.StateTransmittedToSystem)

	sent := link.Sent()
	if len(sent) != 6 {
		t.Fatalf("link messages = %d, want 6", len(sent))
	}
	for i, msg := range sent[:5] {
		chunk, ok := msg.(protocol.UplinkChunk)
		if !ok || chunk.Sequence != i+1 || chunk.ID != "up" {
			t.Errorf("message %d = %+v", i, msg)
		}
	}
	if _, ok := sent[5].(protocol.UplinkEnded); !ok {
		t.Errorf("last message = %+v, want end marker", sent[5])
	}

	// preparing, 0/10, five chunk reports, transmitted
	if len(got) != 8 {
		t.Fatalf("states = %v", states(got))
	}
	for i, u := range got[1:7] {
		if *u.Progress1Current != i || *u.Progress1Max != 10 || u.Progress1Label != "File Chunks Sent" {
			t.Errorf("progress %d = %d/%d %q", i, *u.Progress1Current, *u.Progress1Max, u.Progress1Label)
		}
	}
}

func TestUplinkSourceFailureFailsCommand(t *testing.T) {
	control := newMockControl()
	control.DownloadFunc = func(ctx context.Context, path string, w io.Writer) error {
		w.Write([]byte("partial"))
		return errors.New("connection reset")
	}
	link := &MockLink{}
	d := startDispatcher(t, link, control)

	d.SubmitCommand(protocol.Command{
		ID:     "up",
		Type:   "uplink_file",
		Fields: []protocol.Field{{Name: "gateway_download_path", Value: "staged/file.bin"}},
	})
	got := control.until(t, "up", protocol.StateFailed)

	if errs := got[len(got)-1].Errors; len(errs) != 1 || !strings.Contains(errs[0], "connection reset") {
		t.Errorf("errors = %v", errs)
	}
	for _, msg := range link.Sent() {
		if _, ok := msg.(protocol.UplinkEnded); ok {
			t.Error("end marker sent for a failed uplink")
		}
	}
}

func TestDownlinkIncludesFinalChunkAndCleansUp(t *testing.T) {
	for _, tc := range []struct {
		name      string
		uploadErr error
		final     protocol.CommandState
	}{
		{name: "upload succeeds", final: protocol.StateCompleted},
		{name: "upload fails", uploadErr: errors.New("503 service unavailable"), final: protocol.StateFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			control := newMockControl()
			var uploaded protocol.FileUpload
			var contents string
			control.UploadFunc = func(ctx context.Context, file protocol.FileUpload) error {
				data, err := os.ReadFile(file.Path)
				if err != nil {
					return err
				}
				uploaded, contents = file, string(data)
				return tc.uploadErr
			}
			link := &MockLink{}
			d := startDispatcher(t, link, control, WithStagingDir(t.TempDir()))
			link.SendFunc = func(msg any) {
				cmd, ok := msg.(protocol.LinkCommand)
				if !ok || cmd.Type != "downlink_file" {
					return
				}
				if cmd.Filename != "image.png" {
					t.Errorf("forwarded filename = %q", cmd.Filename)
				}
				go func() {
					d.ReceiveLinkMessage(`{"type":"file_contents_update","downlink_id":"dl","chunk":{"data":"aGVsbG8g"}}`)
					d.ReceiveLinkMessage(`{"type":"file_contents_finished","downlink_id":"dl","chunk":{"data":[119,111,114,108,100]}}`)
				}()
			}

			d.SubmitCommand(protocol.Command{
				ID:     "dl",
				Type:   "downlink_file",
				System: "sat-1",
				Fields: []protocol.Field{{Name: "filename", Value: "image.png"}},
			})
			got := control.until(t, "dl", tc.final)

			if contents != "hello world" {
				t.Errorf("uploaded contents = %q", contents)
			}
			if uploaded.System != "sat-1" || uploaded.Filename != "image.png" || uploaded.ContentType != "image/png" {
				t.Errorf("upload = %+v", uploaded)
			}
			if _, err := os.Stat(uploaded.Path); !os.IsNotExist(err) {
				t.Errorf("staged file left behind: %v", err)
			}

			var sawFinalChunk, sawProcessing bool
			for _, u := range got {
				if u.State == protocol.StateDownlinkingFromSystem && *u.Progress1Current == 2 && *u.Progress1Max == 2 {
					sawFinalChunk = true
				}
				if u.State == protocol.StateProcessingOnGateway {
					sawProcessing = true
				}
			}
			if !sawFinalChunk || !sawProcessing {
				t.Errorf("states = %v", states(got))
			}

			last := got[len(got)-1]
			if tc.uploadErr == nil {
				if last.Payload != "Downlink of image.png for command dl complete" {
					t.Errorf("payload = %q", last.Payload)
				}
			} else if len(last.Errors) != 2 || last.Errors[1] != tc.uploadErr.Error() {
				t.Errorf("errors = %v", last.Errors)
			}
		})
	}
}

func TestFileContentsWithoutDownlink(t *testing.T) {
	control := newMockControl()
	d := startDispatcher(t, &MockLink{}, control)

	d.ReceiveLinkMessage(`{"type":"file_contents_update","downlink_id":"nobody","chunk":{"data":"AA=="}}`)
	if e := control.event(t); e.Type != EventTransferError || e.Level != protocol.LevelWarning {
		t.Errorf("event = %+v", e)
	}
}

func fastTiming() Timing {
	return Timing{
		HardwareTick:      time.Millisecond,
		OrientTick:        time.Millisecond,
		OrientStep:        3,
		OrientMaxAngle:    268,
		CarrierTick:       time.Millisecond,
		CarrierMaxWait:    3 * time.Millisecond,
		HandshakeInterval: 50 * time.Millisecond,
		HandshakeAttempts: 10,
		ChecksumLatency:   time.Millisecond,
	}
}

func TestConnectCompletesWithChecksum(t *testing.T) {
	control := newMockControl()
	link := &MockLink{}
	d := startDispatcher(t, link, control,
		WithTiming(fastTiming()),
		WithOrientationTarget(func() (int, error) { return 9, nil }),
	)
	link.SendFunc = func(msg any) {
		if ping, ok := msg.(protocol.ChecksumPing); ok {
			reply(d, fmt.Sprintf(`{"type":"checksum_pong","word":%q}`, ping.Word))
		}
	}

	d.SubmitCommand(protocol.Command{ID: "cx", Type: "connect"})
	got := control.until(t, "cx", protocol.StateCompleted)

	if last := got[len(got)-1]; !strings.HasPrefix(last.Payload, "Checksum: VALID::") {
		t.Errorf("payload = %q", last.Payload)
	}
	seen := map[protocol.CommandState]bool{}
	for i, u := range got {
		seen[u.State] = true
		if i > 0 && u.State.Rank() < got[i-1].State.Rank() {
			t.Errorf("state went backwards at %d: %v", i, states(got))
		}
	}
	for _, state := range []protocol.CommandState{
		protocol.StateUplinkingToSystem,
		protocol.StateTransmittedToSystem,
		protocol.StateAckedBySystem,
		protocol.StateDownlinkingFromSystem,
		protocol.StateProcessingOnGateway,
	} {
		if !seen[state] {
			t.Errorf("never reported %s: %v", state, states(got))
		}
	}
	if sent := link.Sent(); len(sent) != 1 {
		t.Errorf("pings = %d, want 1", len(sent))
	}
}

func TestConnectOrientationFailureStopsEarly(t *testing.T) {
	timing := fastTiming()
	timing.HardwareTick = time.Hour

	control := newMockControl()
	link := &MockLink{}
	d := startDispatcher(t, link, control,
		WithTiming(timing),
		WithOrientationTarget(func() (int, error) { return 0, errors.New("rotator stalled") }),
	)

	start := time.Now()
	d.SubmitCommand(protocol.Command{ID: "cx", Type: "connect"})
	got := control.until(t, "cx", protocol.StateFailed)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("failure took %s", elapsed)
	}
	if errs := got[len(got)-1].Errors; len(errs) != 1 || !strings.Contains(errs[0], "rotator stalled") {
		t.Errorf("errors = %v", errs)
	}
	for _, u := range got {
		if strings.Contains(u.Status, "sideband") || strings.Contains(u.Progress1Label, "sideband") {
			t.Errorf("carrier broadcast started: %+v", u)
		}
	}
	if sent := link.Sent(); len(sent) != 0 {
		t.Errorf("link messages = %d, want 0", len(sent))
	}
}

func TestConnectNoContact(t *testing.T) {
	timing := fastTiming()
	timing.HandshakeInterval = time.Millisecond
	timing.HandshakeAttempts = 3

	control := newMockControl()
	link := &MockLink{}
	d := startDispatcher(t, link, control, WithTiming(timing), WithOrientationTarget(func() (int, error) { return 3, nil }))

	d.SubmitCommand(protocol.Command{ID: "cx", Type: "connect"})
	got := control.until(t, "cx", protocol.StateFailed)

	if errs := got[len(got)-1].Errors; len(errs) != 1 || !strings.HasPrefix(errs[0], "no contact with satellite") {
		t.Errorf("errors = %v", errs)
	}
	if sent := link.Sent(); len(sent) != 3 {
		t.Errorf("pings = %d, want 3", len(sent))
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	control := newMockControl()
	link := &MockLink{}
	d := startDispatcher(t, link, control)
	link.SendFunc = func(msg any) {
		reply(d, `{"type":"command_update","command":{"id":"c1","state":"failed","errors":["no battery"]}}`)
	}

	d.SubmitCommand(protocol.Command{ID: "c1", Type: "safemode"})
	control.until(t, "c1", protocol.StateFailed)

	d.ReceiveLinkMessage(`{"type":"command_update","command":{"id":"c1","state":"completed"}}`)
	d.ReceiveLinkMessage(`{"type":"event","event":{"type":"marker","level":"warning","message":"sync"}}`)
	if e := control.event(t); e.Type != "marker" {
		t.Fatalf("event = %+v", e)
	}
	control.noUpdates(t)
}

func TestRegressionIsDropped(t *testing.T) {
	control := newMockControl()
	d := startDispatcher(t, &MockLink{}, control)

	d.ReceiveLinkMessage(`{"type":"command_update","command":{"id":"sat","state":"executing_on_system"}}`)
	control.until(t, "sat", protocol.StateExecutingOnSystem)
	d.ReceiveLinkMessage(`{"type":"command_update","command":{"id":"sat","state":"uplinking_to_system"}}`)
	d.ReceiveLinkMessage(`{"type":"command_update","command":{"id":"sat","state":"completed"}}`)

	got := control.until(t, "sat", protocol.StateCompleted)
	if len(got) != 1 {
		t.Errorf("states = %v, want only completed", states(got))
	}
}

func TestMalformedLinkPayloads(t *testing.T) {
	control := newMockControl()
	d := startDispatcher(t, &MockLink{}, control)

	for _, raw := range []any{[]byte("{not json"), "", 42} {
		d.ReceiveLinkMessage(raw)
		e := control.event(t)
		if e.Type != EventFormatError || e.Level != protocol.LevelError || e.Message != "There was a problem receiving downlinked data" {
			t.Errorf("%v: event = %+v", raw, e)
		}
		debug, ok := e.Debug.(map[string]any)
		if !ok || debug["received"] == nil || debug["errors"] == nil {
			t.Errorf("%v: debug = %+v", raw, e.Debug)
		}
	}
	control.noUpdates(t)
}

func TestUnknownCommandType(t *testing.T) {
	control := newMockControl()
	link := &MockLink{}
	d := startDispatcher(t, link, control)

	d.SubmitCommand(protocol.Command{ID: "x1", Type: "dance"})
	control.until(t, "x1", protocol.StatePreparingOnGateway)

	e := control.event(t)
	if e.Type != EventCommandError || e.Message != "Gateway has no implementation for command type dance" {
		t.Errorf("event = %+v", e)
	}
	if len(d.Snapshot()) != 0 {
		t.Errorf("unknown command still tracked: %+v", d.Snapshot())
	}
	if len(link.Sent()) != 0 {
		t.Error("unknown command reached the link")
	}
}

func TestDuplicateInFlightCommand(t *testing.T) {
	control := newMockControl()
	link := &MockLink{}
	d := startDispatcher(t, link, control)

	d.SubmitCommand(protocol.Command{ID: "c1", Type: "telemetry"})
	control.until(t, "c1", protocol.StateTransmittedToSystem)
	d.SubmitCommand(protocol.Command{ID: "c1", Type: "telemetry"})

	if e := control.event(t); e.Type != EventCommandError {
		t.Errorf("event = %+v", e)
	}
	if len(link.Sent()) != 1 {
		t.Errorf("link messages = %d, want 1", len(link.Sent()))
	}
}

func TestLinkUpdateRouting(t *testing.T) {
	control := newMockControl()
	d := startDispatcher(t, &MockLink{}, control)

	d.ReceiveLinkMessage(`{"type":"measurements","measurements":[{"system":"sat","subsystem":"battery","metric":"voltage","value":7.4,"timestamp":1}]}`)
	select {
	case m := <-control.Metrics:
		if len(m) != 1 || m[0].Metric != "voltage" || m[0].Value != 7.4 {
			t.Errorf("measurements = %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("measurements not forwarded")
	}

	fileList := `{"files":[{"name":"a.txt"}],"type":"file_list"}`
	d.ReceiveLinkMessage(map[string]any{"type": "file_list", "files": []any{map[string]any{"name": "a.txt"}}})
	select {
	case raw := <-control.Raw:
		if string(raw) != fileList {
			t.Errorf("raw = %s, want %s", raw, fileList)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("file list not forwarded")
	}

	// Internal messages are consumed without reaching the control system.
	d.ReceiveLinkMessage(`{"type":"checksum_pong","word":"ALBUM"}`)

	d.ReceiveLinkMessage(`{"type":"dance_party","beat":120}`)
	e := control.event(t)
	if e.Type != EventUpdateError || e.Level != protocol.LevelWarning {
		t.Errorf("event = %+v", e)
	}
	if raw, ok := e.Debug.(json.RawMessage); !ok || !strings.Contains(string(raw), "dance_party") {
		t.Errorf("debug = %v", e.Debug)
	}
	control.noUpdates(t)
}

func TestStoppedDispatcherRejectsWork(t *testing.T) {
	d := New(&MockLink{}, newMockControl())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}

	// Fill the queue so the next submission has to observe the stop.
	for i := 0; i < cap(d.actions); i++ {
		d.actions <- func() {}
	}
	if err := d.SubmitCommand(protocol.Command{ID: "late", Type: "ping"}); !errors.Is(err, ErrStopped) {
		t.Errorf("SubmitCommand() error = %v, want ErrStopped", err)
	}
}

func TestDefaultHandshakePacing(t *testing.T) {
	timing := DefaultTiming()
	if timing.HandshakeAttempts != 10 || timing.HandshakeInterval != time.Second {
		t.Errorf("handshake = %d attempts every %s, want 10 every 1s", timing.HandshakeAttempts, timing.HandshakeInterval)
	}
}

func TestIdleLinkCommandsStopBeingTracked(t *testing.T) {
	control := newMockControl()
	d := startDispatcher(t, &MockLink{}, control, WithAdoptedIdle(20*time.Millisecond))

	d.ReceiveLinkMessage(`{"type":"command_update","command":{"id":"sat-only","state":"executing_on_system"}}`)
	control.until(t, "sat-only", protocol.StateExecutingOnSystem)

	deadline := time.Now().Add(5 * time.Second)
	for len(d.Snapshot()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("adopted command still in flight: %+v", d.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommandMetricGroupsUnhandledTypes(t *testing.T) {
	control := newMockControl()
	d := startDispatcher(t, &MockLink{}, control)

	before := testutil.ToFloat64(metrics.CommandsReceived.WithLabelValues("unknown"))
	for i := 0; i < 3; i++ {
		d.SubmitCommand(protocol.Command{ID: fmt.Sprintf("x%d", i), Type: fmt.Sprintf("invented-%d", i)})
		control.event(t)
	}

	if got := testutil.ToFloat64(metrics.CommandsReceived.WithLabelValues("unknown")) - before; got != 3 {
		t.Errorf("unknown commands counted = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(metrics.CommandsReceived, "groundstation_gateway_commands_received_total"); n > 8 {
		t.Errorf("commands_received series = %d, want at most the handled types plus unknown", n)
	}
	if commandLabel("connect") != "connect" || commandLabel("invented-0") != "unknown" {
		t.Error("command label mapping is wrong")
	}
}
