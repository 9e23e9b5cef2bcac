package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"time"

	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/internal/settings"
)

// HTTPTransportName is the Name of HTTPTransport.
const HTTPTransportName = "http"

// Multipart layout expected by the receiving server.
const (
	FieldName       = "image"
	FileName        = "live_img.jpg"
	PartContentType = "image/jpg"

	maxResponseBody = 1 << 20
)

// HTTPTransport POSTs each frame as multipart/form-data to
// {host}/devices/images using one shared client.
type HTTPTransport struct {
	client *http.Client
	path   string
}

// NewHTTPTransport returns a transport using client (a client with the
// given timeout when nil). path defaults to settings.ImagesPath.
func NewHTTPTransport(client *http.Client, timeout time.Duration, path string) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if path == "" {
		path = settings.ImagesPath
	}
	return &HTTPTransport{client: client, path: path}
}

// Name implements Transport.
func (h *HTTPTransport) Name() string { return HTTPTransportName }

// Send implements Transport.
func (h *HTTPTransport) Send(ctx context.Context, p Payload) Result {
	target := p.Endpoint.UploadURL(h.path)
	res := Result{Transport: h.Name(), Target: target}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	body, contentType, err := MultipartBody(p.JPEG)
	if err != nil {
		res.Err = fmt.Errorf("build multipart body: %w", err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", p.ID)

	logger.Debug("HTTP", "Calling url %s", target)
	resp, err := h.client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Header = resp.Header
	res.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		res.Err = fmt.Errorf("read response: %w", err)
		return res
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = &UploadError{StatusCode: resp.StatusCode, Status: resp.Status}
		logHeaders(logger.WARN, resp.Header)
		return res
	}

	logHeaders(logger.INFO, resp.Header)
	logger.Info("HTTP", "%s", res.Body)
	return res
}

// MultipartBody builds the form body with a single image part.
func MultipartBody(jpegData []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldName, FileName))
	hdr.Set("Content-Type", PartContentType)

	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(jpegData); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func logHeaders(level logger.LogLevel, h http.Header) {
	if logger.GetLevel() > level {
		return
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h[name] {
			if level == logger.WARN {
				logger.Warn("HTTP", "%s: %s", name, v)
			} else {
				logger.Info("HTTP", "%s: %s", name, v)
			}
		}
	}
}
