package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dhpke/nmos-core/internal/registry"
)

// DefaultClientTimeout bounds PATCH and GET calls to remote endpoints.
const DefaultClientTimeout = 5 * time.Second

// ReceiverRequest is the body a controller PATCHes to a remote receiver.
// A nil SenderID disconnects; it is always sent, as null if nil.
type ReceiverRequest struct {
	SenderID      *string
	MasterEnable  bool
	Mode          ActivationMode
	TransportFile *TransportFile
}

func (r ReceiverRequest) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"sender_id":     r.SenderID,
		"master_enable": r.MasterEnable,
		"activation":    map[string]any{"mode": r.Mode},
	}
	if r.TransportFile != nil {
		body["transport_file"] = r.TransportFile
	}
	return json.Marshal(body)
}

// Client consumes a remote connection API. Failures are converted to the
// registry error kinds, so callers retry ErrTransient the same way for
// both APIs.
type Client struct {
	http    *http.Client
	timeout time.Duration
	auth    registry.Authorizer
}

// NewClient creates a remote connection API client.
func NewClient(httpClient *http.Client, timeout time.Duration, auth registry.Authorizer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{http: httpClient, timeout: timeout, auth: auth}
}

// PatchReceiver stages req on the receiver at endpointURL (the
// ".../single/receivers/{id}" URL) and returns the resulting staged state.
func (c *Client) PatchReceiver(ctx context.Context, endpointURL string, req ReceiverRequest) (*State, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding patch: %w", err)
	}
	data, _, err := c.do(ctx, http.MethodPatch, strings.TrimRight(endpointURL, "/")+"/staged", body)
	if err != nil {
		return nil, err
	}

	var st State
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, &registry.Error{Op: "PATCH staged", Kind: registry.ErrRejected, Err: err}
		}
	}
	return &st, nil
}

// GetManifest fetches a sender manifest (transport file) and its content
// type.
func (c *Client) GetManifest(ctx context.Context, href string) (string, string, error) {
	data, contentType, err := c.do(ctx, http.MethodGet, href, nil)
	if err != nil {
		return "", "", err
	}
	if contentType == "" {
		contentType = SDPContentType
	}
	return string(data), contentType, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := method + " " + u
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, "", &registry.Error{Op: op, Kind: registry.ErrConfig, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if err := c.auth.Authorize(req); err != nil {
			return nil, "", &registry.Error{Op: op, Kind: registry.ErrConfig, Err: err}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", registry.TransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", registry.TransportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, "", registry.StatusError(op, resp.StatusCode, msg)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
