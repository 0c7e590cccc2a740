package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallsize-vision/balltrack/internal/db"
	"github.com/smallsize-vision/balltrack/internal/httputil"
	"github.com/smallsize-vision/balltrack/internal/track"
)

// Client is a programmatic consumer of the balltrack HTTP API, used by
// the offline tools to poke a live daemon.
type Client struct {
	HTTPClient httputil.HTTPClient
	BaseURL    string
}

// NewClient creates an API client. A nil httpClient gets a standard one
// with a short timeout; these are all local diagnostics calls.
func NewClient(httpClient httputil.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// apiError turns a non-200 response into an error, preferring the JSON
// error message the server writes.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %w", path, apiError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}

// Health checks the daemon's health endpoint.
func (c *Client) Health() error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON("/health", &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", out.Status)
	}
	return nil
}

// Stats fetches the pipeline and manager counters.
func (c *Client) Stats() (*StatsResponse, error) {
	out := &StatsResponse{}
	if err := c.getJSON("/api/stats", out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ball fetches the current arbitrated ball state.
func (c *Client) Ball() (*BallResponse, error) {
	out := &BallResponse{}
	if err := c.getJSON("/api/ball", out); err != nil {
		return nil, err
	}
	return out, nil
}

// World fetches the full world snapshot.
func (c *Client) World() (*WorldResponse, error) {
	out := &WorldResponse{}
	if err := c.getJSON("/api/world", out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tracks fetches the live hypothesis summaries.
func (c *Client) Tracks() ([]track.TrackInfo, error) {
	var out []track.TrackInfo
	if err := c.getJSON("/api/tracks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Config fetches the daemon's filter configuration and geometry.
func (c *Client) Config() (*ConfigResponse, error) {
	out := &ConfigResponse{}
	if err := c.getJSON("/api/config", out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sessions lists recorded sessions, newest first.
func (c *Client) Sessions(limit int) ([]db.Session, error) {
	path := "/api/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []db.Session
	if err := c.getJSON(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Contacts lists the contact episodes of a session.
func (c *Client) Contacts(session string) ([]db.ContactEvent, error) {
	var out []db.ContactEvent
	if err := c.getJSON("/api/contacts?session="+url.QueryEscape(session), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DebugFrames fetches the retained per-frame filter internals.
func (c *Client) DebugFrames() ([]*track.DebugFrame, error) {
	out := &DebugResponse{}
	if err := c.getJSON("/api/debug", out); err != nil {
		return nil, err
	}
	return out.Frames, nil
}

// SetDebug toggles debug collection on the daemon.
func (c *Client) SetDebug(on bool) error {
	path := fmt.Sprintf("/api/debug?enabled=%v", on)
	resp, err := c.HTTPClient.Post(c.BaseURL+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: %w", path, apiError(resp))
	}
	return nil
}
