package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"github.com/router-for-me/CivitaiGallery/internal/config"
)

type fakeSource struct {
	versions map[string]*civitai.ModelVersion
	calls    int32
}

func (f *fakeSource) GetModelVersion(_ context.Context, id string) (*civitai.ModelVersion, error) {
	atomic.AddInt32(&f.calls, 1)
	v, ok := f.versions[id]
	if !ok {
		return nil, civitai.ErrNotFound
	}
	return v, nil
}

type fakeMirror struct {
	fetchPath string
	uploaded  []string
}

func (m *fakeMirror) Fetch(_ context.Context, versionID, dir string) (string, bool, error) {
	if m.fetchPath == "" {
		return "", false, nil
	}
	target := filepath.Join(dir, m.fetchPath)
	if err := os.WriteFile(target, []byte("mirrored"), 0o644); err != nil {
		return "", false, err
	}
	return target, true, nil
}

func (m *fakeMirror) Upload(_ context.Context, versionID, localPath string) error {
	m.uploaded = append(m.uploaded, versionID+":"+filepath.Base(localPath))
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type upstream struct {
	*httptest.Server
	downloads int32
	lastQuery string
	lastAuth  string
}

func newUpstream(t *testing.T, filename string) *upstream {
	t.Helper()
	u := &upstream{}
	thumb := pngBytes(t, 512, 256)
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/download/models/"):
			atomic.AddInt32(&u.downloads, 1)
			u.lastQuery = r.URL.RawQuery
			u.lastAuth = r.Header.Get("Authorization")
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
			w.Header().Set("Content-Length", "10")
			_, _ = w.Write([]byte("0123456789"))
		case strings.HasPrefix(r.URL.Path, "/images/"):
			_, _ = w.Write(thumb)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.Close)
	return u
}

func checkpointVersion(base string) *civitai.ModelVersion {
	return &civitai.ModelVersion{
		ID:          128713,
		Name:        "v8",
		DownloadURL: base + "/api/download/models/128713",
		Model:       &civitai.ModelRef{Name: "DreamShaper", Type: civitai.TypeCheckpoint},
		Images:      []civitai.Image{{URL: base + "/images/1.jpeg"}},
		Files: []civitai.File{
			{Name: "a.ckpt", Metadata: civitai.FileMetadata{FP: "fp32", Size: "full", Format: "PickleTensor"}},
			{Name: "b.safetensors", Metadata: civitai.FileMetadata{FP: "fp32", Size: "pruned", Format: "SafeTensor"}},
		},
	}
}

func TestSelectDownloadParams(t *testing.T) {
	prefs := config.DownloadFormat{FP: "fp16", Size: "pruned", Format: "SafeTensor"}
	file := func(fp, size, format string) civitai.File {
		return civitai.File{Metadata: civitai.FileMetadata{FP: fp, Size: size, Format: format}}
	}
	cases := []struct {
		name  string
		files []civitai.File
		want  DownloadParams
	}{
		{"exact", []civitai.File{file("fp16", "pruned", "SafeTensor")}, DownloadParams{"fp16", "pruned", "SafeTensor"}},
		{"fp and size", []civitai.File{file("fp16", "pruned", "PickleTensor")}, DownloadParams{"fp16", "pruned", "PickleTensor"}},
		{"size and format", []civitai.File{file("fp32", "pruned", "SafeTensor")}, DownloadParams{"fp32", "pruned", "SafeTensor"}},
		{"size only", []civitai.File{file("bf16", "pruned", "Other")}, DownloadParams{"bf16", "pruned", "Other"}},
		{"no match", []civitai.File{file("fp16", "full", "SafeTensor")}, DownloadParams{}},
		{"first match wins", []civitai.File{file("fp32", "pruned", "Other"), file("fp16", "pruned", "SafeTensor")}, DownloadParams{"fp32", "pruned", "Other"}},
		{"empty", nil, DownloadParams{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectDownloadParams(tc.files, prefs); got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDownloadIfNotExistDownloadsOnce(t *testing.T) {
	up := newUpstream(t, "dreamshaper_8.safetensors")
	src := &fakeSource{versions: map[string]*civitai.ModelVersion{"128713": checkpointVersion(up.URL)}}
	var progressCalls int
	var lastDone int64
	mirror := &fakeMirror{}
	l := New(t.TempDir(), src,
		WithAPIKey("sk-test", HostOf(up.URL)),
		WithMirror(mirror),
		WithProgress(func(done, total int64) {
			progressCalls++
			lastDone = done
		}),
	)

	path, err := l.DownloadIfNotExist(context.Background(), "128713", civitai.TypeCheckpoint)
	if err != nil {
		t.Fatalf("DownloadIfNotExist: %v", err)
	}
	if filepath.Base(path) != "dreamshaper_8.safetensors" {
		t.Fatalf("unexpected path %s", path)
	}
	if filepath.Dir(path) != filepath.Join(l.CacheDir(), "checkpoints", "128713") {
		t.Errorf("unexpected directory %s", filepath.Dir(path))
	}
	if up.lastQuery != "format=SafeTensor&fp=fp32&size=pruned" {
		t.Errorf("unexpected download query %q", up.lastQuery)
	}
	if up.lastAuth != "Bearer sk-test" {
		t.Errorf("expected bearer on upstream download, got %q", up.lastAuth)
	}
	if progressCalls < 2 || lastDone != 10 {
		t.Errorf("unexpected progress calls=%d last=%d", progressCalls, lastDone)
	}
	if len(mirror.uploaded) != 1 || mirror.uploaded[0] != "128713:dreamshaper_8.safetensors" {
		t.Errorf("expected mirror upload, got %v", mirror.uploaded)
	}

	again, err := l.DownloadIfNotExist(context.Background(), "128713", civitai.TypeCheckpoint)
	if err != nil || again != path {
		t.Fatalf("expected cached path %s, got %s err=%v", path, again, err)
	}
	if atomic.LoadInt32(&up.downloads) != 1 {
		t.Errorf("expected a single download, got %d", up.downloads)
	}
}

func TestDownloadIfNotExistIgnoresPartialFiles(t *testing.T) {
	up := newUpstream(t, "model.safetensors")
	src := &fakeSource{versions: map[string]*civitai.ModelVersion{"128713": checkpointVersion(up.URL)}}
	l := New(t.TempDir(), src)

	dir := filepath.Join(l.KindDir(civitai.TypeCheckpoint), "128713")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.safetensors.part"), []byte("half"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := l.DownloadIfNotExist(context.Background(), "128713", civitai.TypeCheckpoint)
	if err != nil {
		t.Fatalf("DownloadIfNotExist: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "0123456789" {
		t.Errorf("unexpected content %q", data)
	}
	if up.lastAuth != "" {
		t.Errorf("expected no bearer without a configured key, got %q", up.lastAuth)
	}
}

func TestDownloadIfNotExistRejectsTypeMismatch(t *testing.T) {
	up := newUpstream(t, "x.safetensors")
	src := &fakeSource{versions: map[string]*civitai.ModelVersion{"128713": checkpointVersion(up.URL)}}
	l := New(t.TempDir(), src)

	_, err := l.DownloadIfNotExist(context.Background(), "128713", civitai.TypeLora)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if atomic.LoadInt32(&up.downloads) != 0 {
		t.Error("expected no download on type mismatch")
	}
}

func TestDownloadFileRejectsEscapingNames(t *testing.T) {
	up := newUpstream(t, "../escape.safetensors")
	src := &fakeSource{versions: map[string]*civitai.ModelVersion{"128713": checkpointVersion(up.URL)}}
	l := New(t.TempDir(), src)

	_, err := l.DownloadIfNotExist(context.Background(), "128713", civitai.TypeCheckpoint)
	if !errors.Is(err, ErrUnsafeFilename) {
		t.Fatalf("expected ErrUnsafeFilename, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(l.KindDir(civitai.TypeCheckpoint), "escape.safetensors")); !os.IsNotExist(statErr) {
		t.Error("file escaped the version directory")
	}
}

func TestDownloadIfNotExistUsesMirror(t *testing.T) {
	src := &fakeSource{}
	mirror := &fakeMirror{fetchPath: "mirrored.safetensors"}
	l := New(t.TempDir(), src, WithMirror(mirror))

	path, err := l.DownloadIfNotExist(context.Background(), "77", civitai.TypeLora)
	if err != nil {
		t.Fatalf("DownloadIfNotExist: %v", err)
	}
	if filepath.Base(path) != "mirrored.safetensors" {
		t.Errorf("unexpected path %s", path)
	}
	if atomic.LoadInt32(&src.calls) != 0 {
		t.Error("expected mirror hit to skip metadata lookup")
	}
}

func TestThumbnailDataURLScalesDown(t *testing.T) {
	up := newUpstream(t, "x.safetensors")
	src := &fakeSource{versions: map[string]*civitai.ModelVersion{"128713": checkpointVersion(up.URL)}}
	l := New(t.TempDir(), src)

	path, err := l.ThumbnailPath(context.Background(), "128713")
	if err != nil {
		t.Fatalf("ThumbnailPath: %v", err)
	}
	if path != filepath.Join(l.CacheDir(), "thumbnails", "128713.png") {
		t.Errorf("unexpected thumbnail path %s", path)
	}

	dataURL, err := l.ThumbnailDataURL(context.Background(), "128713")
	if err != nil {
		t.Fatalf("ThumbnailDataURL: %v", err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		t.Fatalf("unexpected data url prefix %q", dataURL[:min(len(dataURL), 30)])
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 256 || b.Dy() != 128 {
		t.Errorf("expected 256x128 thumbnail, got %dx%d", b.Dx(), b.Dy())
	}
	r, _, _, _ := img.At(10, 10).RGBA()
	if v := int(r >> 8); v < 199 || v > 201 {
		t.Errorf("expected a uniform colour to survive scaling, got r=%d", r>>8)
	}
}

func TestThumbnailMissingImages(t *testing.T) {
	v := &civitai.ModelVersion{ID: 5, Model: &civitai.ModelRef{Type: civitai.TypeCheckpoint}}
	l := New(t.TempDir(), &fakeSource{versions: map[string]*civitai.ModelVersion{"5": v}})
	if _, err := l.ThumbnailPath(context.Background(), "5"); !errors.Is(err, ErrNoThumbnail) {
		t.Fatalf("expected ErrNoThumbnail, got %v", err)
	}
}

func TestRequestResolve(t *testing.T) {
	if id, err := (Request{ExactVersionID: " 9 ", ModelVersionID: "1"}).Resolve(); err != nil || id != "9" {
		t.Errorf("expected exact id to win, got %q %v", id, err)
	}
	if id, err := (Request{ModelVersionID: "1"}).Resolve(); err != nil || id != "1" {
		t.Errorf("expected gallery id, got %q %v", id, err)
	}
	if _, err := (Request{}).Resolve(); !errors.Is(err, ErrVersionRequired) {
		t.Errorf("expected ErrVersionRequired, got %v", err)
	}
}

func TestLoadLoraSkipsZeroStrength(t *testing.T) {
	src := &fakeSource{}
	l := New(t.TempDir(), src)
	res, err := l.LoadLora(context.Background(), Request{ModelVersionID: "3"})
	if err != nil {
		t.Fatalf("LoadLora: %v", err)
	}
	if !res.Skipped || res.Path != "" {
		t.Errorf("expected skipped result, got %+v", res)
	}
	if atomic.LoadInt32(&src.calls) != 0 {
		t.Error("expected no metadata lookup for skipped lora")
	}
}

func TestLoadCheckpointAttachesThumbnail(t *testing.T) {
	up := newUpstream(t, "model.safetensors")
	src := &fakeSource{versions: map[string]*civitai.ModelVersion{"128713": checkpointVersion(up.URL)}}
	l := New(t.TempDir(), src)

	res, err := l.Load(context.Background(), civitai.TypeCheckpoint, Request{ExactVersionID: "128713", ModelVersionID: "1"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.VersionID != "128713" || filepath.Base(res.Path) != "model.safetensors" {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.Thumbnail, "data:image/png;base64,") {
		t.Errorf("expected thumbnail data url")
	}
}
