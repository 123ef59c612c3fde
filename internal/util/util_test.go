package util

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMaskSensitiveQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Empty", "", ""},
		{"NoSecrets", "types=LORA&period=Month", "types=LORA&period=Month"},
		{"Token", "token=abcdefghijkl&types=LORA", "token=abcd...ijkl&types=LORA"},
		{"Key", "key=12345", "key=12...45"},
		{"ApiKeyVariant", "api_key=abc", "api_key=a...c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskSensitiveQuery(tt.input); got != tt.expected {
				t.Errorf("MaskSensitiveQuery(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMaskAuthorizationHeader(t *testing.T) {
	if got := MaskAuthorizationHeader("Bearer 0123456789abcdef"); got != "Bearer 0123...cdef" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskAuthorizationHeader("tok"); got != "t...k" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	got, err := ResolvePath("~/.cache/comfy-civitai")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if want := filepath.Join(home, ".cache", "comfy-civitai"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if got, _ = ResolvePath(""); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
	if got, _ = ResolvePath("a/../b"); got != "b" {
		t.Fatalf("expected cleaned path b, got %q", got)
	}
}

func TestWritablePath(t *testing.T) {
	t.Setenv("WRITABLE_PATH", " /tmp/data/ ")
	if got := WritablePath(); got != filepath.Clean("/tmp/data") {
		t.Fatalf("unexpected writable path %q", got)
	}
}

func TestSetProxy(t *testing.T) {
	client := SetProxy("http://127.0.0.1:3128", &http.Client{})
	transport, ok := client.Transport.(*http.Transport)
	if !ok || transport.Proxy == nil {
		t.Fatalf("expected http proxy transport, got %T", client.Transport)
	}

	plain := SetProxy("", &http.Client{})
	if plain.Transport != nil {
		t.Fatal("expected untouched client for empty proxy url")
	}
}

func TestSetProxyKeepsTransportTimeouts(t *testing.T) {
	for _, proxyURL := range []string{"http://127.0.0.1:3128", "socks5://127.0.0.1:1080"} {
		base := &http.Transport{ResponseHeaderTimeout: 7 * time.Second}
		client := SetProxy(proxyURL, &http.Client{Transport: base})
		transport, ok := client.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("%s: expected *http.Transport, got %T", proxyURL, client.Transport)
		}
		if transport == base {
			t.Fatalf("%s: base transport was modified in place", proxyURL)
		}
		if transport.ResponseHeaderTimeout != 7*time.Second {
			t.Fatalf("%s: header timeout = %v", proxyURL, transport.ResponseHeaderTimeout)
		}
	}
}
