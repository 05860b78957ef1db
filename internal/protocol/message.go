package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Message type tags shared by the control system and the satellite link.
const (
	TypeCommandUpdate            = "command_update"
	TypeMeasurements             = "measurements"
	TypeEvent                    = "event"
	TypeFileList                 = "file_list"
	TypeFileMetadataUpdate       = "file_metadata_update"
	TypeCommandDefinitionsUpdate = "command_definitions_update"
	TypeFileContentsUpdate       = "file_contents_update"
	TypeFileContentsFinished     = "file_contents_finished"
	TypeUplinkFileChunk          = "uplink_file_chunk"
	TypeUplinkEnded              = "uplink_ended"
	TypeChecksumPing             = "checksum_ping"
	TypeChecksumPong             = "checksum_pong"
)

// Event levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
)

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Command is a command issued by the control system.
type Command struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Fields []Field `json:"fields,omitempty"`
	System string  `json:"system,omitempty"`
}

// Field returns the first non-empty value of the named field.
func (c Command) Field(name string) (string, bool) {
	for _, f := range c.Fields {
		if f.Name == name && f.Value != "" {
			return f.Value, true
		}
	}
	return "", false
}

// LinkCommand is a command as forwarded to the satellite.
type LinkCommand struct {
	Command
	Filename string `json:"filename,omitempty"`
}

// CommandStatus is the `command` object of a command_update.
type CommandStatus struct {
	ID               string       `json:"id"`
	State            CommandState `json:"state"`
	Progress1Current *int         `json:"progress_1_current,omitempty"`
	Progress1Max     *int         `json:"progress_1_max,omitempty"`
	Progress1Label   string       `json:"progress_1_label,omitempty"`
	Progress2Current *int         `json:"progress_2_current,omitempty"`
	Progress2Max     *int         `json:"progress_2_max,omitempty"`
	Progress2Label   string       `json:"progress_2_label,omitempty"`
	Status           string       `json:"status,omitempty"`
	Payload          string       `json:"payload,omitempty"`
	Errors           []string     `json:"errors,omitempty"`
}

func Status(id string, state CommandState) CommandStatus {
	return CommandStatus{ID: id, State: state}
}

func (s CommandStatus) WithProgress1(current, max int, label string) CommandStatus {
	s.Progress1Current, s.Progress1Max, s.Progress1Label = &current, &max, label
	return s
}

func (s CommandStatus) WithProgress2(current, max int, label string) CommandStatus {
	s.Progress2Current, s.Progress2Max, s.Progress2Label = &current, &max, label
	return s
}

func (s CommandStatus) WithStatus(status string) CommandStatus {
	s.Status = status
	return s
}

type Measurement struct {
	System    string  `json:"system"`
	Subsystem string  `json:"subsystem"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

type Event struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Debug   any    `json:"debug,omitempty"`
}

// Bytes decodes from either a base64 string or a JSON array of byte values.
type Bytes []byte

func (b *Bytes) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*b = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("decode chunk data: %w", err)
		}
		*b = decoded
		return nil
	}
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decode chunk data: %w", err)
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("decode chunk data: byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

type Chunk struct {
	Data Bytes `json:"data"`
}

// Update is a decoded message flowing through the dispatcher.
type Update interface {
	UpdateType() string
}

type CommandUpdate struct {
	Type    string        `json:"type"`
	Command CommandStatus `json:"command"`
}

func NewCommandUpdate(status CommandStatus) CommandUpdate {
	return CommandUpdate{Type: TypeCommandUpdate, Command: status}
}

func (CommandUpdate) UpdateType() string { return TypeCommandUpdate }

type MeasurementsUpdate struct {
	Type         string        `json:"type"`
	Measurements []Measurement `json:"measurements"`
}

func NewMeasurementsUpdate(measurements []Measurement) MeasurementsUpdate {
	return MeasurementsUpdate{Type: TypeMeasurements, Measurements: measurements}
}

func (MeasurementsUpdate) UpdateType() string { return TypeMeasurements }

type EventUpdate struct {
	Type  string `json:"type"`
	Event Event  `json:"event"`
}

func NewEventUpdate(event Event) EventUpdate {
	return EventUpdate{Type: TypeEvent, Event: event}
}

func (EventUpdate) UpdateType() string { return TypeEvent }

// FileContents carries a downlinked chunk (file_contents_update) or the
// end-of-file marker (file_contents_finished), which may hold a last chunk.
type FileContents struct {
	Type       string `json:"type"`
	DownlinkID string `json:"downlink_id"`
	Chunk      *Chunk `json:"chunk,omitempty"`
}

func (f FileContents) UpdateType() string { return f.Type }

// Finished reports whether f is the end-of-file marker.
func (f FileContents) Finished() bool { return f.Type == TypeFileContentsFinished }

// Data returns the chunk payload, if any.
func (f FileContents) Data() []byte {
	if f.Chunk == nil {
		return nil
	}
	return f.Chunk.Data
}

type UplinkChunk struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`
	Chunk    Chunk  `json:"chunk"`
}

func NewUplinkChunk(id string, sequence int, data []byte) UplinkChunk {
	return UplinkChunk{Type: TypeUplinkFileChunk, ID: id, Sequence: sequence, Chunk: Chunk{Data: data}}
}

func (UplinkChunk) UpdateType() string { return TypeUplinkFileChunk }

type UplinkEnded struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func NewUplinkEnded(id string) UplinkEnded {
	return UplinkEnded{Type: TypeUplinkEnded, ID: id}
}

func (UplinkEnded) UpdateType() string { return TypeUplinkEnded }

type ChecksumPing struct {
	Type string `json:"type"`
	Word string `json:"word"`
}

func NewChecksumPing(word string) ChecksumPing {
	return ChecksumPing{Type: TypeChecksumPing, Word: word}
}

func (ChecksumPing) UpdateType() string { return TypeChecksumPing }

type ChecksumPong struct {
	Type string `json:"type"`
	Word string `json:"word"`
}

func NewChecksumPong(word string) ChecksumPong {
	return ChecksumPong{Type: TypeChecksumPong, Word: word}
}

func (ChecksumPong) UpdateType() string { return TypeChecksumPong }

// Passthrough is forwarded to the control system verbatim.
type Passthrough struct {
	Type string
	Raw  json.RawMessage
}

func (p Passthrough) UpdateType() string { return p.Type }

// Unknown is a well-formed message with a type the gateway does not handle.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) UpdateType() string { return u.Type }

// FileUpload describes a downlinked file handed to the control system.
type FileUpload struct {
	CommandID   string
	System      string
	Filename    string
	Path        string
	ContentType string
	Timestamp   int64
}
