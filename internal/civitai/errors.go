package civitai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotFound matches an *APIError whose status is 404.
	ErrNotFound = errors.New("civitai: not found")
	// ErrInvalidID is returned for empty or non-numeric ids.
	ErrInvalidID = errors.New("civitai: invalid id")
)

// APIError is a non-2xx answer from the content API.
type APIError struct {
	StatusCode int
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("civitai: GET %s: HTTP %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("civitai: GET %s: HTTP %d: %s", e.Path, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// newAPIError extracts the upstream message from a JSON error body when there is one.
func newAPIError(status int, path string, body []byte) *APIError {
	msg := ""
	if gjson.ValidBytes(body) {
		for _, key := range []string{"error", "message", "error.message"} {
			if r := gjson.GetBytes(body, key); r.Exists() && r.Type == gjson.String {
				msg = r.String()
				break
			}
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 100 {
			msg = msg[:100] + "..."
		}
	}
	return &APIError{StatusCode: status, Path: path, Message: msg}
}
