package gateway

import (
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/beeper/groundstation-gateway/internal/metrics"
	"github.com/beeper/groundstation-gateway/internal/protocol"
	"github.com/beeper/groundstation-gateway/internal/transfer"
)

const uploadStatus = "Uploading file to the control system"

// passthrough forwards the command to the satellite unchanged.
func (d *Dispatcher) passthrough(s *session, msg protocol.LinkCommand) {
	id := s.cmd.ID
	d.emit(s, protocol.Status(id, protocol.StateUplinkingToSystem))
	if err := d.link.Send(s.ctx, msg); err != nil {
		d.fail(s, fmt.Errorf("send %s command to satellite: %w", s.cmd.Type, err))
		return
	}
	d.emit(s, protocol.Status(id, protocol.StateTransmittedToSystem))
}

// uplink streams a staged file from the control system to the satellite.
func (d *Dispatcher) uplink(s *session) {
	id := s.cmd.ID
	path, ok := s.cmd.Field("gateway_download_path")
	if !ok {
		d.fail(s, &ValidationError{
			Command: s.cmd.Type,
			Field:   "gateway_download_path",
			Message: "uplink_file failed because the value for gateway_download_path was not provided",
		})
		return
	}

	d.emit(s, protocol.Status(id, protocol.StateUplinkingToSystem).
		WithProgress1(0, transfer.EstimateMax(0), transfer.UplinkLabel))

	go func() {
		up := transfer.NewUplink(s.ctx, id, d.link, func(sent int) {
			metrics.TransferChunks.WithLabelValues("uplink").Inc()
			d.emitLater(s, protocol.Status(id, protocol.StateUplinkingToSystem).
				WithProgress1(sent, transfer.EstimateMax(sent), transfer.UplinkLabel))
		})
		if err := d.control.DownloadStagedFile(s.ctx, path, up); err != nil {
			d.failLater(s, &TransferIOError{Op: "uplink " + path, Err: err})
			return
		}

		// The end marker and the transition go out together so nothing the
		// satellite says about the finished file can overtake them.
		err := d.post(func() {
			if s.closed {
				return
			}
			if err := up.Finish(); err != nil {
				d.fail(s, &TransferIOError{Op: "finish uplink", Err: err})
				return
			}
			s.log.Info().Int("chunks", up.Sent()).Msg("Uplink finished")
			d.emit(s, protocol.Status(id, protocol.StateTransmittedToSystem))
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("Uplink finished after dispatcher stopped")
		}
	}()
}

// downlink asks the satellite for a file and collects the chunks it sends back.
func (d *Dispatcher) downlink(s *session) {
	id := s.cmd.ID
	filename, ok := s.cmd.Field("filename")
	if !ok {
		d.fail(s, &ValidationError{
			Command: s.cmd.Type,
			Field:   "filename",
			Message: "No value received for field filename in downlink_file command",
		})
		return
	}

	dl, err := transfer.NewDownlink(d.staging, id, filename)
	if err != nil {
		d.fail(s, &TransferIOError{Op: "stage downlink", Err: err})
		return
	}
	d.downlinks[id] = dl
	d.passthrough(s, protocol.LinkCommand{Command: s.cmd, Filename: filename})
}

func (d *Dispatcher) receiveFileContents(u protocol.FileContents) {
	id := u.DownlinkID
	dl, ok := d.downlinks[id]
	s := d.sessions[id]
	if !ok || s == nil {
		d.diagnose(protocol.Event{
			Type:    EventTransferError,
			Level:   protocol.LevelWarning,
			Message: fmt.Sprintf("Received file contents for %s with no active downlink", id),
			Debug:   map[string]any{"downlink_id": id, "type": u.Type},
		})
		return
	}

	if !u.Finished() {
		chunks, err := dl.Append(u.Data())
		if err != nil {
			d.fail(s, &TransferIOError{Op: "write downlinked chunk", Err: err})
			return
		}
		metrics.TransferChunks.WithLabelValues("downlink").Inc()
		d.emit(s, protocol.Status(id, protocol.StateDownlinkingFromSystem).
			WithProgress1(chunks, transfer.EstimateMax(chunks), transfer.DownlinkLabel))
		return
	}

	delete(d.downlinks, id)
	chunks, flushed, err := dl.Finish(u.Data())
	if err != nil {
		if rmErr := dl.Remove(); rmErr != nil {
			s.log.Warn().Err(rmErr).Msg("Failed to remove staged downlink")
		}
		d.fail(s, &TransferIOError{Op: "finish downlink", Err: err})
		return
	}
	if flushed {
		metrics.TransferChunks.WithLabelValues("downlink").Inc()
		d.emit(s, protocol.Status(id, protocol.StateDownlinkingFromSystem).
			WithProgress1(chunks, chunks, transfer.DownlinkLabel))
	}

	s.log.Info().Int("chunks", chunks).Str("path", dl.Path).Msg("Downlink received")
	d.emit(s, protocol.Status(id, protocol.StateProcessingOnGateway).WithStatus(uploadStatus))
	go d.upload(s, dl)
}

// upload hands the downlinked file to the control system. The staged copy is
// removed before the outcome is reported.
func (d *Dispatcher) upload(s *session, dl *transfer.Downlink) {
	file := protocol.FileUpload{
		CommandID:   s.cmd.ID,
		System:      s.cmd.System,
		Filename:    dl.Filename,
		Path:        dl.Path,
		ContentType: contentType(dl.Filename),
		Timestamp:   time.Now().UnixMilli(),
	}
	err := d.control.UploadDownlinkedFile(s.ctx, file)
	if rmErr := dl.Remove(); rmErr != nil {
		s.log.Warn().Err(rmErr).Msg("Failed to remove staged downlink")
	}
	if err != nil {
		d.failLater(s, &UpstreamIOError{Filename: dl.Filename, Err: err})
		return
	}

	status := protocol.Status(s.cmd.ID, protocol.StateCompleted)
	status.Payload = fmt.Sprintf("Downlink of %s for command %s complete", dl.Filename, s.cmd.ID)
	d.emitLater(s, status)
}

func contentType(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (d *Dispatcher) receivePong(u protocol.ChecksumPong) {
	if len(d.pongs) == 0 {
		d.log.Debug().Str("word", u.Word).Msg("Checksum pong with no handshake in progress")
		return
	}
	// Pongs carry no command id; every running handshake sees them.
	for id, ch := range d.pongs {
		select {
		case ch <- u.Word:
		default:
			d.log.Warn().Str("command_id", id).Str("word", u.Word).Msg("Handshake listener full, dropping pong")
		}
	}
}
