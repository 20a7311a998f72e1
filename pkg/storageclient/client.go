// Package storageclient is the transport.Adapter of the storage node.
package storageclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sir_venger/docupload/internal/transport"
	"github.com/sir_venger/docupload/pkg/storageproto"
)

// Client speaks the node protocol over HTTP.
type Client struct {
	base string
	c    *http.Client
}

// New создаёт HTTP-клиент ноды по базовому адресу.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		c:    hc,
	}
}

var _ transport.Adapter = (*Client)(nil)

// OpenSession открывает сессию дозаписи на ноде.
func (h *Client) OpenSession(ctx context.Context) (string, error) {
	var out storageproto.OpenResponse
	if err := h.doJSON(ctx, "open", http.MethodPost, h.base+storageproto.SessionsPath, nil, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// Append дописывает data по смещению offset.
func (h *Client) Append(ctx context.Context, token string, offset int64, data []byte) error {
	u := fmt.Sprintf(storageproto.SessionPathFormat, h.base, url.PathEscape(token))
	sum := sha256.Sum256(data)
	headers := map[string]string{
		storageproto.HeaderOffset:   strconv.FormatInt(offset, 10),
		storageproto.HeaderChecksum: hex.EncodeToString(sum[:]),
		"Content-Type":              storageproto.ContentTypeOctetStr,
	}
	return h.doJSON(ctx, "append", http.MethodPut, u, bytes.NewReader(data), headers, nil)
}

// Close коммитит offset байт сессии в path.
func (h *Client) Close(ctx context.Context, token string, offset int64, path string, opts transport.CommitOptions) (transport.ObjectHandle, error) {
	u := fmt.Sprintf(storageproto.CommitPathFormat, h.base, url.PathEscape(token))
	body, err := json.Marshal(storageproto.CommitRequest{
		Path:       path,
		Autorename: opts.Autorename,
		ModifiedAt: opts.ModifiedAt,
	})
	if err != nil {
		return transport.ObjectHandle{}, err
	}
	headers := map[string]string{
		storageproto.HeaderOffset: strconv.FormatInt(offset, 10),
		"Content-Type":            storageproto.ContentTypeJSON,
	}

	var info storageproto.ObjectInfo
	if err := h.doJSON(ctx, "commit", http.MethodPost, u, bytes.NewReader(body), headers, &info); err != nil {
		return transport.ObjectHandle{}, err
	}
	return handle(info), nil
}

// Copy копирует готовый объект.
func (h *Client) Copy(ctx context.Context, src, dst string) (transport.ObjectHandle, error) {
	body, err := json.Marshal(storageproto.CopyRequest{Src: src, Dst: dst})
	if err != nil {
		return transport.ObjectHandle{}, err
	}
	headers := map[string]string{"Content-Type": storageproto.ContentTypeJSON}

	var info storageproto.ObjectInfo
	if err := h.doJSON(ctx, "copy", http.MethodPost, h.base+storageproto.CopyPath, bytes.NewReader(body), headers, &info); err != nil {
		return transport.ObjectHandle{}, err
	}
	return handle(info), nil
}

// Abort удаляет сессию на ноде.
func (h *Client) Abort(ctx context.Context, token string) error {
	u := fmt.Sprintf(storageproto.SessionPathFormat, h.base, url.PathEscape(token))
	return h.doJSON(ctx, "abort", http.MethodDelete, u, nil, nil, nil)
}

// Fetch скачивает объект и возвращает поток с телом.
func (h *Client) Fetch(ctx context.Context, path string) (io.ReadCloser, error) {
	u, err := url.JoinPath(h.base, storageproto.ObjectsPath, strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusErr("fetch", resp)
	}
	return resp.Body, nil
}

// Health запрашивает /health ноды.
func (h *Client) Health(ctx context.Context) (storageproto.Health, error) {
	var out storageproto.Health
	err := h.doJSON(ctx, "health", http.MethodGet, h.base+storageproto.HealthPath, nil, nil, &out)
	return out, err
}

// Ping reports whether the node answers its health check.
func (h *Client) Ping(ctx context.Context) error {
	hl, err := h.Health(ctx)
	if err != nil {
		return err
	}
	if !hl.OK {
		return fmt.Errorf("storage node %s reports not ok", h.base)
	}
	return nil
}

// GC asks the node to collect sessions idle for longer than ttl.
func (h *Client) GC(ctx context.Context, ttl time.Duration) (int, error) {
	u := h.base + storageproto.GCPath + "?" + url.Values{storageproto.QueryGCTTL: {ttl.String()}}.Encode()
	var out storageproto.GCResult
	err := h.doJSON(ctx, "gc", http.MethodPost, u, nil, nil, &out)
	return out.Removed, err
}

func (h *Client) doJSON(ctx context.Context, op, method, u string, body io.Reader, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.c.Do(req)
	if err != nil {
		return fmt.Errorf("storage %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusErr(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("storage %s: decode response: %w", op, err)
	}
	return nil
}

func statusErr(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(msg))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("storage %s: %w: %s", op, transport.ErrNotFound, text)
	case http.StatusConflict:
		return fmt.Errorf("storage %s: %w: %s", op, transport.ErrConflict, text)
	default:
		return fmt.Errorf("storage %s failed: %s: %s", op, resp.Status, text)
	}
}

func handle(info storageproto.ObjectInfo) transport.ObjectHandle {
	return transport.ObjectHandle{
		Path:       info.Path,
		Size:       info.Size,
		Revision:   info.Revision,
		ModifiedAt: info.ModifiedAt,
	}
}
