package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"

	"audioseg/storage"
)

// Source is where the WAV comes from: uploaded bytes, an object-storage
// reference, or an http(s) URL. Exactly one of Data, Ref, URL is set.
type Source struct {
	Data     []byte
	Ref      string
	URL      string
	MimeType string // declared by the caller, may be empty
	Size     int64  // declared by the caller, may be zero for Ref/URL
	Filename string
}

func (s Source) kind() string {
	switch {
	case len(s.Data) > 0:
		return "upload"
	case s.Ref != "":
		return "ref"
	case s.URL != "":
		return "url"
	}
	return ""
}

func normalizeMime(mt string) string {
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return strings.ToLower(parsed)
	}
	return strings.ToLower(mt)
}

// sniffMime detects the type from the leading bytes; WAV comes back as
// audio/wave.
func sniffMime(head []byte) string {
	return normalizeMime(http.DetectContentType(head))
}

func (o *Orchestrator) mimeAllowed(mt string) bool {
	for _, allowed := range o.settings.AllowedMimeTypes {
		if mt == allowed {
			return true
		}
	}
	return false
}

// validateSource checks the declared properties before anything is fetched.
func (o *Orchestrator) validateSource(src Source) *Error {
	switch src.kind() {
	case "":
		return validationError("No audio source was provided")
	case "ref":
		if o.storage == nil {
			return validationError("Object storage is not configured; upload the file instead")
		}
	case "url":
		if !strings.HasPrefix(src.URL, "http://") && !strings.HasPrefix(src.URL, "https://") {
			return validationError("Source URL must be http or https")
		}
	}

	size := src.Size
	if n := int64(len(src.Data)); n > size {
		size = n
	}
	if size > o.settings.MaxInputSize {
		return validationError("File size %d exceeds the limit of %d bytes", size, o.settings.MaxInputSize)
	}

	declared := normalizeMime(src.MimeType)
	if declared == "" && len(src.Data) > 0 {
		declared = sniffMime(src.Data)
	}
	if declared != "" && !o.mimeAllowed(declared) {
		return validationError("Unsupported file type %q; a WAV file is required", declared)
	}
	return nil
}

// acquire writes the source into dst. The returned *Error is a validation
// error when the fetched content breaks the bounds, a download error when
// fetching failed.
func (o *Orchestrator) acquire(ctx context.Context, src Source, dst string) (int64, *Error) {
	var (
		r   io.Reader
		err error
	)
	switch src.kind() {
	case "upload":
		r = bytes.NewReader(src.Data)
	case "ref":
		data, derr := o.storage.Download(ctx, src.Ref, o.settings.MaxInputSize)
		if errors.Is(derr, storage.ErrTooLarge) {
			return 0, validationError("File size exceeds the limit of %d bytes", o.settings.MaxInputSize)
		}
		if derr != nil {
			return 0, phaseError(ctx, KindDownload, "Failed to download the source file", derr)
		}
		r = bytes.NewReader(data)
	case "url":
		body, cleanup, herr := o.fetchURL(ctx, src.URL)
		if herr != nil {
			return 0, phaseError(ctx, KindDownload, "Failed to download the source file", herr)
		}
		defer cleanup()
		r = body
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, newError(KindDownload, "Failed to store the source file", err)
	}
	defer f.Close()

	// Read one byte past the limit to detect oversize content.
	limited := &io.LimitedReader{R: r, N: o.settings.MaxInputSize + 1}
	head := make([]byte, 512)
	n, err := io.ReadFull(limited, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, phaseError(ctx, KindDownload, "Failed to read the source file", err)
	}
	head = head[:n]
	if n == 0 {
		return 0, validationError("The source file is empty")
	}
	if normalizeMime(src.MimeType) == "" {
		if mt := sniffMime(head); !o.mimeAllowed(mt) {
			return 0, validationError("Unsupported file type %q; a WAV file is required", mt)
		}
	}
	if _, err := f.Write(head); err != nil {
		return 0, newError(KindDownload, "Failed to store the source file", err)
	}
	written, err := io.Copy(f, limited)
	if err != nil {
		return 0, phaseError(ctx, KindDownload, "Failed to store the source file", err)
	}
	total := written + int64(n)
	if total > o.settings.MaxInputSize {
		return 0, validationError("File size exceeds the limit of %d bytes", o.settings.MaxInputSize)
	}
	if err := f.Close(); err != nil {
		return 0, newError(KindDownload, "Failed to store the source file", err)
	}
	return total, nil
}

func (o *Orchestrator) fetchURL(ctx context.Context, url string) (io.Reader, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, func() {}, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, func() {}, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, func() {}, fmt.Errorf("failed to download file, status: %s", resp.Status)
	}
	return resp.Body, func() { resp.Body.Close() }, nil
}
