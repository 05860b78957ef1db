package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError is returned for link payloads that are not a recognizable message.
type DecodeError struct {
	Received string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unrecognized link payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errMissingID = errors.New("command_update without command id")

// Decode turns a raw link payload into an Update. Payloads may be JSON bytes,
// a JSON string, a generic map or an already decoded Update.
func Decode(raw any) (Update, error) {
	var data []byte
	switch v := raw.(type) {
	case Update:
		return v, nil
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &DecodeError{Received: fmt.Sprint(v), Err: err}
		}
		data = b
	default:
		return nil, &DecodeError{Received: fmt.Sprint(raw), Err: fmt.Errorf("unsupported payload type %T", raw)}
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DecodeError{Received: string(data), Err: err}
	}

	switch probe.Type {
	case TypeCommandUpdate:
		u, err := decodeAs[CommandUpdate](data)
		if err == nil && u.Command.ID == "" {
			err = &DecodeError{Received: string(data), Err: errMissingID}
		}
		return u, err
	case TypeMeasurements:
		return decodeAs[MeasurementsUpdate](data)
	case TypeEvent:
		return decodeAs[EventUpdate](data)
	case TypeFileContentsUpdate, TypeFileContentsFinished:
		return decodeAs[FileContents](data)
	case TypeChecksumPong:
		return decodeAs[ChecksumPong](data)
	case TypeChecksumPing:
		return decodeAs[ChecksumPing](data)
	case TypeUplinkFileChunk:
		return decodeAs[UplinkChunk](data)
	case TypeUplinkEnded:
		return decodeAs[UplinkEnded](data)
	case TypeFileList, TypeFileMetadataUpdate, TypeCommandDefinitionsUpdate:
		return Passthrough{Type: probe.Type, Raw: clone(data)}, nil
	default:
		return Unknown{Type: probe.Type, Raw: clone(data)}, nil
	}
}

func decodeAs[T Update](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &DecodeError{Received: string(data), Err: err}
	}
	return v, nil
}

func clone(data []byte) json.RawMessage {
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out
}
