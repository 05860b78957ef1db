package gateway

import (
	"errors"
	"fmt"
)

var ErrStopped = errors.New("dispatcher stopped")

// ValidationError is a command that is missing a required field. The command
// fails before anything is sent to the link.
type ValidationError struct {
	Command string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s command is missing field %s", e.Command, e.Field)
}

// TransferIOError is a failure reading or writing a chunked transfer.
type TransferIOError struct {
	Op  string
	Err error
}

func (e *TransferIOError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransferIOError) Unwrap() error { return e.Err }

// UpstreamIOError is a failed hand-off of a downlinked file to the control system.
type UpstreamIOError struct {
	Filename string
	Err      error
}

func (e *UpstreamIOError) Error() string {
	return fmt.Sprintf("Problem uploading the file %s to the control system", e.Filename)
}

func (e *UpstreamIOError) Unwrap() error { return e.Err }

// errorList renders err as the errors list of a failed command update. An
// upstream failure keeps its cause as a separate entry.
func errorList(err error) []string {
	var upstream *UpstreamIOError
	if errors.As(err, &upstream) && upstream.Err != nil {
		return []string{upstream.Error(), upstream.Err.Error()}
	}
	return []string{err.Error()}
}
