// Package satellite is a software stand-in for the spacecraft on the far side
// of the link. It answers gateway commands, accepts uplinked files, serves
// files for downlink and streams housekeeping telemetry.
package satellite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beeper/groundstation-gateway/internal/protocol"
	"github.com/beeper/groundstation-gateway/internal/util"
)

type Sender interface {
	Send(ctx context.Context, msg any) error
}

type Config struct {
	System            string
	LibraryDir        string
	DownlinkDir       string
	ChunkSize         int
	TelemetryInterval time.Duration
	TelemetryDuration time.Duration
	SafemodePause     time.Duration
	PongDelayMin      time.Duration
	PongDelayMax      time.Duration
}

func DefaultConfig() Config {
	return Config{
		System:            "fake-satellite",
		LibraryDir:        "file_lib",
		DownlinkDir:       "for_downlink",
		ChunkSize:         64 * 1024,
		TelemetryInterval: time.Second,
		TelemetryDuration: 3 * time.Minute,
		SafemodePause:     3 * time.Minute,
		PongDelayMin:      500 * time.Millisecond,
		PongDelayMax:      1500 * time.Millisecond,
	}
}

// message is the union of every field a gateway message may carry.
type message struct {
	protocol.Command
	Filename string          `json:"filename"`
	Word     string          `json:"word"`
	Sequence int             `json:"sequence"`
	Chunk    *protocol.Chunk `json:"chunk"`
}

type Satellite struct {
	log       zerolog.Logger
	cfg       Config
	link      Sender
	telemetry *Telemetry
	now       func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	receivers   map[string]*os.File
	sendUntil   time.Time
	pausedUntil time.Time
}

func New(link Sender, cfg Config) *Satellite {
	return &Satellite{
		log:       log.With().Str("component", "satellite").Str("system", cfg.System).Logger(),
		cfg:       cfg,
		link:      link,
		telemetry: NewTelemetry(cfg.System),
		now:       time.Now,
		ctx:       context.Background(),
		receivers: make(map[string]*os.File),
	}
}

// Run announces the command definitions and produces telemetry until ctx is done.
func (s *Satellite) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	for _, dir := range []string{s.cfg.LibraryDir, s.cfg.DownlinkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s.send(newDefinitionsUpdate(s.cfg.System))
	s.log.Info().Msg("Satellite online")

	ticker := time.NewTicker(s.cfg.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeReceivers()
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Satellite) tick() {
	now := s.now()

	s.mu.Lock()
	paused := now.Before(s.pausedUntil)
	sending := now.Before(s.sendUntil)
	s.mu.Unlock()

	if paused {
		return
	}
	measurements := s.telemetry.Next(now)
	if sending {
		s.send(protocol.NewMeasurementsUpdate(measurements))
	}
}

func (s *Satellite) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Satellite) send(msg any) {
	if err := s.link.Send(s.context(), msg); err != nil {
		s.log.Err(err).Msg("Failed to send to gateway")
	}
}

func (s *Satellite) update(status protocol.CommandStatus) {
	s.send(protocol.NewCommandUpdate(status))
}

func (s *Satellite) complete(id, payload string) {
	status := protocol.Status(id, protocol.StateCompleted)
	status.Payload = payload
	s.update(status)
}

func (s *Satellite) fail(id string, err error) {
	status := protocol.Status(id, protocol.StateFailed)
	status.Errors = []string{err.Error()}
	s.update(status)
}

// Handle processes one payload received from the gateway.
func (s *Satellite) Handle(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Err(err).Msg("Failed to decode gateway message")
		return
	}
	s.log.Debug().Str("type", msg.Type).Str("command_id", msg.ID).Msg("Received")

	switch msg.Type {
	case "ping", "telemetry", "safemode", "update_file_list", "downlink_file":
		s.update(protocol.Status(msg.ID, protocol.StateAckedBySystem))
	}

	switch msg.Type {
	case "ping":
		s.complete(msg.ID, "pong")
	case "telemetry":
		s.mu.Lock()
		s.sendUntil = s.now().Add(s.cfg.TelemetryDuration)
		s.mu.Unlock()
		s.complete(msg.ID, "telemetry started")
	case "safemode":
		s.mu.Lock()
		s.pausedUntil = s.now().Add(s.cfg.SafemodePause)
		s.mu.Unlock()
		s.complete(msg.ID, "safemode engaged")
	case "update_file_list":
		s.updateFileList(msg)
	case "downlink_file":
		go s.downlinkFile(msg)
	case protocol.TypeUplinkFileChunk:
		s.receiveChunk(msg)
	case protocol.TypeUplinkEnded:
		s.uplinkEnded(msg)
	case protocol.TypeChecksumPing:
		s.checksumPing(msg.Word)
	default:
		s.send(protocol.NewEventUpdate(protocol.Event{
			Type:    "satelliteError",
			Level:   protocol.LevelError,
			Message: fmt.Sprintf("Satellite did not recognize command type %s", msg.Type),
			Debug:   json.RawMessage(data),
		}))
	}
}

func (s *Satellite) checksumPing(word string) {
	spread := int(s.cfg.PongDelayMax - s.cfg.PongDelayMin)
	jitter, err := util.RandomInt(0, max(spread, 0))
	if err != nil {
		jitter = 0
	}
	time.AfterFunc(s.cfg.PongDelayMin+time.Duration(jitter), func() {
		s.send(protocol.NewChecksumPong(word))
	})
}

func (s *Satellite) libraryPath(id string) string {
	return filepath.Join(s.cfg.LibraryDir, "file_"+filepath.Base(id))
}

func (s *Satellite) receiveChunk(msg message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.receivers[msg.ID]
	if !ok {
		var err error
		f, err = os.Create(s.libraryPath(msg.ID))
		if err != nil {
			s.log.Err(err).Str("command_id", msg.ID).Msg("Failed to open uplink file")
			return
		}
		s.receivers[msg.ID] = f
	}
	if msg.Chunk == nil {
		return
	}
	if _, err := f.Write(msg.Chunk.Data); err != nil {
		s.log.Err(err).Str("command_id", msg.ID).Int("sequence", msg.Sequence).Msg("Failed to write uplink chunk")
	}
}

func (s *Satellite) uplinkEnded(msg message) {
	s.mu.Lock()
	f, ok := s.receivers[msg.ID]
	delete(s.receivers, msg.ID)
	s.mu.Unlock()

	var closeErr error
	if ok {
		closeErr = f.Close()
	}
	s.update(protocol.Status(msg.ID, protocol.StateExecutingOnSystem))

	if _, err := os.Stat(s.libraryPath(msg.ID)); err != nil || closeErr != nil {
		s.fail(msg.ID, errors.New("Couldn't verify file transfer"))
		return
	}
	s.complete(msg.ID, "file verified")
}

func (s *Satellite) closeReceivers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.receivers {
		f.Close()
		delete(s.receivers, id)
	}
}

// downlinkPath keeps requested files inside the downlink directory.
func (s *Satellite) downlinkPath(name string) string {
	return filepath.Join(s.cfg.DownlinkDir, filepath.Clean("/"+name))
}

// downlinkFile streams a file in chunks. The last chunk rides on the finish marker.
func (s *Satellite) downlinkFile(msg message) {
	s.update(protocol.Status(msg.ID, protocol.StateExecutingOnSystem))

	f, err := os.Open(s.downlinkPath(msg.Filename))
	if err != nil {
		s.fail(msg.ID, err)
		return
	}
	defer f.Close()

	var pending []byte
	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if pending != nil {
				s.send(fileContents(protocol.TypeFileContentsUpdate, msg.ID, pending))
			}
			pending = append([]byte(nil), buf[:n]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(msg.ID, err)
			return
		}
	}
	s.send(fileContents(protocol.TypeFileContentsFinished, msg.ID, pending))
}

func fileContents(kind, id string, data []byte) protocol.FileContents {
	fc := protocol.FileContents{Type: kind, DownlinkID: id}
	if len(data) > 0 {
		fc.Chunk = &protocol.Chunk{Data: data}
	}
	return fc
}

type fileEntry struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Timestamp int64  `json:"timestamp"`
}

type fileListUpdate struct {
	Type     string `json:"type"`
	FileList struct {
		System    string      `json:"system"`
		Timestamp int64       `json:"timestamp"`
		Files     []fileEntry `json:"files"`
	} `json:"file_list"`
}

func (s *Satellite) updateFileList(msg message) {
	const label = "Files for downlink accessed"
	s.update(protocol.Status(msg.ID, protocol.StateExecutingOnSystem))

	entries, err := os.ReadDir(s.cfg.DownlinkDir)
	if err != nil {
		s.fail(msg.ID, err)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	update := fileListUpdate{Type: protocol.TypeFileList}
	update.FileList.System = s.cfg.System
	update.FileList.Files = []fileEntry{}
	for i, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.fail(msg.ID, err)
			return
		}
		update.FileList.Files = append(update.FileList.Files, fileEntry{
			Name:      entry.Name(),
			Size:      info.Size(),
			Timestamp: info.ModTime().UnixMilli(),
		})
		s.update(protocol.Status(msg.ID, protocol.StateExecutingOnSystem).WithProgress1(i+1, len(entries), label))
	}

	s.update(protocol.Status(msg.ID, protocol.StateDownlinkingFromSystem))
	update.FileList.Timestamp = s.now().UnixMilli()
	s.send(update)
	s.complete(msg.ID, "File list update complete")
}
