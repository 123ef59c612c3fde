package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// APIKeyEnv is the environment variable consulted when no key is configured.
const APIKeyEnv = "CIVITAI_API_KEY"

const defaultSecretFileTTL = 5 * time.Minute

// SecretSource provides the upstream API key. An empty key means anonymous access.
type SecretSource interface {
	Get(ctx context.Context) (string, error)
}

// MultiSourceSecret resolves the key from the configured value, then $CIVITAI_API_KEY, then
// the "apiKey" field of a JSON secrets file. File reads are cached for a TTL, including misses.
type MultiSourceSecret struct {
	path string
	ttl  time.Duration

	mu         sync.Mutex
	configured string
	fileKey    string
	fileReadAt time.Time
}

// DefaultSecretsFile returns ~/.config/civitai/secrets.json.
func DefaultSecretsFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "civitai", "secrets.json")
}

// NewMultiSourceSecret creates a secret source. An empty path selects DefaultSecretsFile and a
// zero ttl five minutes.
func NewMultiSourceSecret(configured, path string, ttl time.Duration) *MultiSourceSecret {
	if path == "" {
		path = DefaultSecretsFile()
	}
	if ttl == 0 {
		ttl = defaultSecretFileTTL
	}
	return &MultiSourceSecret{path: path, ttl: ttl, configured: strings.TrimSpace(configured)}
}

// Get returns the first non-empty key. A missing secrets file is not an error.
func (s *MultiSourceSecret) Get(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configured != "" {
		return s.configured, nil
	}
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		return key, nil
	}
	if !s.fileReadAt.IsZero() && time.Since(s.fileReadAt) < s.ttl {
		return s.fileKey, nil
	}

	key, err := readSecretsFile(s.path)
	s.fileKey, s.fileReadAt = key, time.Now()
	return key, err
}

// UpdateExplicitKey replaces the configured key and forgets the cached file read.
func (s *MultiSourceSecret) UpdateExplicitKey(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.configured = strings.TrimSpace(key)
	s.fileKey, s.fileReadAt = "", time.Time{}
	s.mu.Unlock()
}

func readSecretsFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("civitai secrets: read %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("civitai secrets: %s is not valid JSON", path)
	}
	return strings.TrimSpace(gjson.GetBytes(data, "apiKey").String()), nil
}

// StaticSecretSource always returns the same key.
type StaticSecretSource string

// NewStaticSecretSource creates a secret source with a fixed key.
func NewStaticSecretSource(key string) StaticSecretSource {
	return StaticSecretSource(strings.TrimSpace(key))
}

// Get returns the key.
func (s StaticSecretSource) Get(context.Context) (string, error) {
	return string(s), nil
}
