package control

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beeper/groundstation-gateway/internal/protocol"
)

const uploadPath = "gateway_api/v1.0/downlinked_files"

func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	return url.JoinPath(c.cfg.RESTURL, path)
}

// DownloadStagedFile streams a file staged on the control system into w, one
// Write per chunk of at most ChunkSize bytes.
func (c *Client) DownloadStagedFile(ctx context.Context, path string, w io.Writer) error {
	target, err := c.resolve(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", path, resp.Status)
	}

	// Wrapping the body keeps io.CopyBuffer on our buffer size.
	n, err := io.CopyBuffer(w, struct{ io.Reader }{resp.Body}, make([]byte, c.cfg.ChunkSize))
	if err != nil {
		return fmt.Errorf("download %s: %w", path, err)
	}
	c.log.Debug().Str("path", path).Int64("bytes", n).Msg("Downloaded staged file")
	return nil
}

// UploadDownlinkedFile posts a downlinked file to the control system as a
// multipart form.
func (c *Client) UploadDownlinkedFile(ctx context.Context, file protocol.FileUpload) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Path, err)
	}
	defer f.Close()

	target, err := url.JoinPath(c.cfg.RESTURL, uploadPath)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(form, f, file))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("upload %s: %w", file.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload %s: unexpected status %s: %s", file.Filename, resp.Status, strings.TrimSpace(string(body)))
	}
	c.log.Info().Str("command_id", file.CommandID).Str("filename", file.Filename).Msg("Uploaded downlinked file")
	return nil
}

func writeUpload(form *multipart.Writer, src io.Reader, file protocol.FileUpload) error {
	fields := [][2]string{
		{"command_id", file.CommandID},
		{"system", file.System},
		{"content_type", file.ContentType},
		{"timestamp", strconv.FormatInt(file.Timestamp, 10)},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", filepath.Base(file.Filename))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return form.Close()
}
