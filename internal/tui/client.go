package tui

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client wraps HTTP calls to the local server's management API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a management client for the server listening on 127.0.0.1:port.
func NewClient(port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the server origin.
func (c *Client) BaseURL() string { return c.baseURL }

// APIBaseURL returns the proxied content API root, for civitai.NewClient.
func (c *Client) APIBaseURL() string { return c.baseURL + "/api" }

func (c *Client) get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// GetConfig fetches the sanitized server config.
func (c *Client) GetConfig() ([]byte, error) {
	data, err := c.get("/v0/management/config")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("config: unexpected response %.40q", data)
	}
	return data, nil
}

// GetLogs fetches log lines newer than after and the latest sequence number.
func (c *Client) GetLogs(after uint64, limit int) ([]string, uint64, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if after > 0 {
		query.Set("after", strconv.FormatUint(after, 10))
	}
	path := "/v0/management/logs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	data, err := c.get(path)
	if err != nil {
		return nil, after, err
	}
	lines := []string{}
	for _, line := range gjson.GetBytes(data, "lines").Array() {
		lines = append(lines, line.Get("text").String())
	}
	latest := after
	if v := gjson.GetBytes(data, "latest"); v.Exists() {
		latest = v.Uint()
	}
	return lines, latest, nil
}
