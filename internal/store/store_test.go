package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/router-for-me/CivitaiGallery/internal/config"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metadata")
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "42"); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}
	if err := s.Put(ctx, "42", []byte(`{"id":42}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, found, err := s.Get(ctx, "42")
	if err != nil || !found || string(raw) != `{"id":42}` {
		t.Fatalf("unexpected Get result raw=%s found=%v err=%v", raw, found, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "42.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be renamed away, stat err=%v", err)
	}
}

func TestFileStoreRejectsNonNumericIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, id := range []string{"", "../etc/passwd", "12a"} {
		if err := s.Put(context.Background(), id, []byte("{}")); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
}

func TestNewObjectMirrorValidatesConfig(t *testing.T) {
	cases := []config.ObjectMirrorConfig{
		{Bucket: "b", AccessKey: "a", SecretKey: "s"},
		{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"},
		{Endpoint: "localhost:9000", Bucket: "b"},
	}
	for i, cfg := range cases {
		if _, err := NewObjectMirror(cfg); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	m, err := NewObjectMirror(config.ObjectMirrorConfig{
		Endpoint: "localhost:9000", Bucket: "models", AccessKey: "a", SecretKey: "s", Prefix: "/team/",
	})
	if err != nil {
		t.Fatalf("NewObjectMirror: %v", err)
	}
	if got := m.versionPrefix("128713"); got != "team/models/128713" {
		t.Errorf("unexpected version prefix %q", got)
	}
}

func TestIsPlainFileName(t *testing.T) {
	ok := []string{"model.safetensors", "a b.ckpt"}
	bad := []string{"", ".", "..", "../x", "dir/file", `dir\file`}
	for _, name := range ok {
		if !isPlainFileName(name) {
			t.Errorf("expected %q to be accepted", name)
		}
	}
	for _, name := range bad {
		if isPlainFileName(name) {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestPostgresTableName(t *testing.T) {
	s := &PostgresStore{cfg: config.MetadataStoreConfig{Schema: "gallery", Table: `model"versions`}}
	if got := s.tableName(); got != `"gallery"."model""versions"` {
		t.Errorf("unexpected table name %s", got)
	}
	if !strings.Contains(createVersionTableSQL(`"t"`), "content JSONB NOT NULL") {
		t.Error("expected JSONB content column")
	}
}
