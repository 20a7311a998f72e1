package uploadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sir_venger/docupload/internal/models"
	"github.com/sir_venger/docupload/pkg/httperrors"
	"github.com/sir_venger/docupload/pkg/uploadproto"
)

// Protocol is the server side of the upload protocol as the orchestrator sees it.
type Protocol interface {
	Start(ctx context.Context, meta uploadproto.Metadata, fileSize, chunkSize int64) (uploadproto.StartResponse, error)
	Append(ctx context.Context, sessionKey string, chunkIndex int, data []byte) (uploadproto.AppendResponse, error)
	Finish(ctx context.Context, sessionKey string, commit bool) (uploadproto.FinishResponse, error)
	Direct(ctx context.Context, meta uploadproto.Metadata, data []byte) (uploadproto.FinishResponse, error)
}

// Error is a non-2xx answer of the upload endpoint.
// It unwraps to the models sentinel matching its code.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if kind := models.FromCode(e.Code); kind != nil {
		return kind
	}
	if e.Status >= http.StatusInternalServerError {
		return models.ErrBackend
	}
	if e.Status == http.StatusRequestEntityTooLarge {
		return models.ErrValidation
	}
	return nil
}

// HTTPClient speaks the JSON upload endpoint.
type HTTPClient struct {
	base string
	c    *http.Client
}

func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{base: strings.TrimRight(baseURL, "/"), c: hc}
}

var _ Protocol = (*HTTPClient)(nil)

func (h *HTTPClient) Start(ctx context.Context, meta uploadproto.Metadata, fileSize, chunkSize int64) (uploadproto.StartResponse, error) {
	var out uploadproto.StartResponse
	err := h.post(ctx, uploadproto.UploadPath, uploadproto.Request{
		Action:    uploadproto.ActionStart,
		Metadata:  meta,
		FileSize:  fileSize,
		ChunkSize: chunkSize,
	}, &out)
	return out, err
}

func (h *HTTPClient) Append(ctx context.Context, sessionKey string, chunkIndex int, data []byte) (uploadproto.AppendResponse, error) {
	var out uploadproto.AppendResponse
	err := h.post(ctx, uploadproto.UploadPath, uploadproto.Request{
		Action:     uploadproto.ActionAppend,
		SessionKey: sessionKey,
		ChunkIndex: chunkIndex,
		ChunkData:  data,
	}, &out)
	return out, err
}

func (h *HTTPClient) Finish(ctx context.Context, sessionKey string, commit bool) (uploadproto.FinishResponse, error) {
	var out uploadproto.FinishResponse
	err := h.post(ctx, uploadproto.UploadPath, uploadproto.Request{
		Action:     uploadproto.ActionFinish,
		SessionKey: sessionKey,
		Commit:     commit,
	}, &out)
	return out, err
}

func (h *HTTPClient) Direct(ctx context.Context, meta uploadproto.Metadata, data []byte) (uploadproto.FinishResponse, error) {
	var out uploadproto.FinishResponse
	err := h.post(ctx, uploadproto.DirectPath, uploadproto.DirectRequest{Metadata: meta, Data: data}, &out)
	return out, err
}

// Health asks the server whether its backend is reachable.
func (h *HTTPClient) Health(ctx context.Context) (uploadproto.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+uploadproto.HealthPath, nil)
	if err != nil {
		return uploadproto.Health{}, err
	}
	resp, err := h.c.Do(req)
	if err != nil {
		return uploadproto.Health{}, err
	}
	defer resp.Body.Close()

	var out uploadproto.Health
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uploadproto.Health{}, fmt.Errorf("decode health: %w", err)
	}
	return out, nil
}

func (h *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &Error{Status: resp.StatusCode}

	var body httperrors.Body
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

// transient reports whether a protocol call may be retried. An error the
// upload service answered with a code is final: the service already retried
// its own backend. Gateway 5xx without a code and network failures are not.
func transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == "" && apiErr.Status >= http.StatusInternalServerError
	}
	// transport level failure, the request may not have reached the server
	return !errors.Is(err, models.ErrValidation) && !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrState)
}
