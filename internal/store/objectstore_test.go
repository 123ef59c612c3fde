package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/CivitaiGallery/internal/config"
)

const listTwoVersionFiles = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>models</Name><Prefix>models/128713/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
<Contents><Key>models/128713/a.safetensors</Key><Size>7</Size><LastModified>2025-01-02T03:04:05.000Z</LastModified><ETag>"a"</ETag></Contents>
<Contents><Key>models/128713/b.safetensors</Key><Size>7</Size><LastModified>2025-01-02T03:04:05.000Z</LastModified><ETag>"b"</ETag></Contents>
</ListBucketResult>`

func newFakeBucket(t *testing.T) *ObjectMirror {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/models/" || r.URL.Path == "/models":
			w.Header().Set("Content-Type", "application/xml")
			_, _ = fmt.Fprint(w, listTwoVersionFiles)
		case strings.HasPrefix(r.URL.Path, "/models/models/128713/"):
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Length", "7")
			w.Header().Set("Last-Modified", "Thu, 02 Jan 2025 03:04:05 GMT")
			w.Header().Set("ETag", `"a"`)
			_, _ = w.Write([]byte("weights"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	m, err := NewObjectMirror(config.ObjectMirrorConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Bucket:    "models",
		AccessKey: "minio",
		SecretKey: "minio123",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewObjectMirror: %v", err)
	}
	return m
}

func listerRunning() bool {
	buf := make([]byte, 1<<20)
	return strings.Contains(string(buf[:runtime.Stack(buf, true)]), "listObjectsV2")
}

func TestObjectMirrorFetchStopsListing(t *testing.T) {
	m := newFakeBucket(t)
	dir := t.TempDir()

	path, found, err := m.Fetch(context.Background(), "128713", dir)
	if err != nil || !found {
		t.Fatalf("Fetch: found=%v err=%v", found, err)
	}
	if path != filepath.Join(dir, "a.safetensors") {
		t.Fatalf("unexpected path %s", path)
	}
	if data, _ := os.ReadFile(path); string(data) != "weights" {
		t.Fatalf("unexpected content %q", data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for listerRunning() {
		if time.Now().After(deadline) {
			t.Fatal("object listing goroutine still running after Fetch returned")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
