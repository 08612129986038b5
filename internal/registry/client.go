package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dhpke/nmos-core/internal/resource"
)

// Defaults applied by New.
const (
	DefaultAPIVersion   = "v1.3"
	DefaultReadTimeout  = 2 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultPageLimit    = 1000

	maxErrorBody = 512
)

// Config configures a Client.
type Config struct {
	// BaseURL is the registry root, e.g. "http://registry:8010".
	BaseURL string

	// QueryURL is the query API root. Defaults to BaseURL.
	QueryURL string

	// APIVersion selects /x-nmos/{registration,query}/{APIVersion}.
	APIVersion string

	// ReadTimeout bounds heartbeats and GETs.
	ReadTimeout time.Duration

	// WriteTimeout bounds registrations and deletions.
	WriteTimeout time.Duration

	// PageLimit is sent as paging.limit on list queries.
	PageLimit int

	// Authorizer, if set, is applied to every request.
	Authorizer Authorizer

	// HTTPClient overrides the default client. Timeouts come from the
	// per-call contexts, not from the client.
	HTTPClient *http.Client
}

// Client talks to the registration and query APIs of a registry.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	registrationBase string
	queryBase        string
	readTimeout      time.Duration
	writeTimeout     time.Duration
	pageLimit        int
	auth             Authorizer
	http             *http.Client
}

// New validates cfg and builds a Client. An empty or malformed base URL is
// an ErrConfig; no network call is made.
func New(cfg Config) (*Client, error) {
	base, err := parseBase(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	query := base
	if cfg.QueryURL != "" {
		if query, err = parseBase(cfg.QueryURL); err != nil {
			return nil, err
		}
	}

	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	if !strings.HasPrefix(version, "v") {
		return nil, fmt.Errorf("%w: api version %q must look like v1.3", ErrConfig, version)
	}

	c := &Client{
		registrationBase: base + "/x-nmos/registration/" + version,
		queryBase:        query + "/x-nmos/query/" + version,
		readTimeout:      orDefault(cfg.ReadTimeout, DefaultReadTimeout),
		writeTimeout:     orDefault(cfg.WriteTimeout, DefaultWriteTimeout),
		pageLimit:        cfg.PageLimit,
		auth:             cfg.Authorizer,
		http:             cfg.HTTPClient,
	}
	if c.pageLimit <= 0 {
		c.pageLimit = DefaultPageLimit
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c, nil
}

func parseBase(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: no registry configured", ErrConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid registry url %q: %w", ErrConfig, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: invalid registry url %q", ErrConfig, raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// RegistrationBase returns the resolved registration API URL.
func (c *Client) RegistrationBase() string { return c.registrationBase }

// QueryBase returns the resolved query API URL.
func (c *Client) QueryBase() string { return c.queryBase }

// Register POSTs a resource envelope. Re-posting an existing ID with a
// newer version is an update.
func (c *Client) Register(ctx context.Context, env resource.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", env.Type, env.Data.Meta().ID, err)
	}
	op := fmt.Sprintf("POST resource %s/%s", env.Type, env.Data.Meta().ID)
	_, err = c.do(ctx, c.writeTimeout, op, http.MethodPost, c.registrationBase+"/resource", body)
	return err
}

// Heartbeat keeps the node registration alive. ErrNotFound means the
// registry no longer knows the node.
func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	_, err := c.do(ctx, c.readTimeout, "POST heartbeat", http.MethodPost,
		c.registrationBase+"/health/nodes/"+url.PathEscape(nodeID), nil)
	return err
}

// Delete removes a resource from the registry.
func (c *Client) Delete(ctx context.Context, t resource.Type, id string) error {
	op := fmt.Sprintf("DELETE resource %s/%s", t, id)
	_, err := c.do(ctx, c.writeTimeout, op, http.MethodDelete,
		c.registrationBase+"/resource/"+t.Plural()+"/"+url.PathEscape(id), nil)
	return err
}

// ListSenders returns up to PageLimit senders.
func (c *Client) ListSenders(ctx context.Context) ([]resource.Sender, error) {
	var out []resource.Sender
	err := c.list(ctx, resource.TypeSender, &out)
	return out, err
}

// ListReceivers returns up to PageLimit receivers.
func (c *Client) ListReceivers(ctx context.Context) ([]resource.Receiver, error) {
	var out []resource.Receiver
	err := c.list(ctx, resource.TypeReceiver, &out)
	return out, err
}

// ListDevices returns up to PageLimit devices.
func (c *Client) ListDevices(ctx context.Context) ([]resource.Device, error) {
	var out []resource.Device
	err := c.list(ctx, resource.TypeDevice, &out)
	return out, err
}

// GetReceiver fetches one receiver.
func (c *Client) GetReceiver(ctx context.Context, id string) (*resource.Receiver, error) {
	var r resource.Receiver
	if err := c.get(ctx, resource.TypeReceiver, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetSender fetches one sender.
func (c *Client) GetSender(ctx context.Context, id string) (*resource.Sender, error) {
	var s resource.Sender
	if err := c.get(ctx, resource.TypeSender, id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetDevice fetches one device.
func (c *Client) GetDevice(ctx context.Context, id string) (*resource.Device, error) {
	var d resource.Device
	if err := c.get(ctx, resource.TypeDevice, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) list(ctx context.Context, t resource.Type, out any) error {
	u := c.queryBase + "/" + t.Plural() + "?paging.limit=" + strconv.Itoa(c.pageLimit)
	op := "GET " + t.Plural()
	body, err := c.do(ctx, c.readTimeout, op, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: op, Kind: ErrRejected, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, t resource.Type, id string, out any) error {
	op := fmt.Sprintf("GET %s/%s", t.Plural(), id)
	body, err := c.do(ctx, c.readTimeout, op, http.MethodGet, c.queryBase+"/"+t.Plural()+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: op, Kind: ErrRejected, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// do performs one request under its own timeout and converts every failure
// into an *Error.
func (c *Client) do(ctx context.Context, timeout time.Duration, op, method, u string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrConfig, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if err := c.auth.Authorize(req); err != nil {
			return nil, &Error{Op: op, Kind: ErrConfig, Err: err}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, TransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, StatusError(op, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
