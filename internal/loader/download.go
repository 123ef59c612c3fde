package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/router-for-me/CivitaiGallery/internal/buildinfo"
	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	log "github.com/sirupsen/logrus"
)

// ErrUnsafeFilename is returned when a server supplied file name would land outside the target directory.
var ErrUnsafeFilename = errors.New("loader: unsafe file name")

// ProgressFunc receives the bytes written so far and the expected total (-1 when unknown).
type ProgressFunc func(done, total int64)

const downloadChunkSize = 1 << 22

// downloadFile streams rawURL into dir. The body goes to <name>.part first and is renamed
// once complete. When filename is empty it comes from Content-Disposition, then from the
// final url path.
func (l *Loader) downloadFile(ctx context.Context, rawURL string, params DownloadParams, dir, filename string, progress ProgressFunc) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("loader: parse download url: %w", err)
	}
	if !params.IsZero() {
		q := u.Query()
		for k, vs := range params.Values() {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if l.sendsKeyTo(u) {
		if key := civitai.BearerKey(ctx, l.keys); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("loader: download %s: %w", u.Host+u.Path, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("loader: failed to close download body")
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("loader: download %s: HTTP %d", u.Host+u.Path, resp.StatusCode)
	}

	if filename == "" {
		filename = filenameFromResponse(resp)
	}
	target, err := safeJoin(dir, filename)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("loader: create %s: %w", dir, err)
	}

	part := target + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", fmt.Errorf("loader: create %s: %w", filepath.Base(part), err)
	}
	written, err := copyWithProgress(f, resp.Body, resp.ContentLength, progress)
	if errClose := f.Close(); err == nil {
		err = errClose
	}
	if err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("loader: write %s: %w", filepath.Base(part), err)
	}
	if err = os.Rename(part, target); err != nil {
		return "", fmt.Errorf("loader: finalize %s: %w", filepath.Base(target), err)
	}
	log.WithFields(log.Fields{"path": target, "bytes": written}).Debug("loader: download complete")
	return target, nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	if progress == nil {
		return io.CopyBuffer(dst, src, make([]byte, downloadChunkSize))
	}
	progress(0, total)
	buf := make([]byte, downloadChunkSize)
	var done int64
	for {
		n, errRead := src.Read(buf)
		if n > 0 {
			if _, errWrite := dst.Write(buf[:n]); errWrite != nil {
				return done, errWrite
			}
			done += int64(n)
			progress(done, total)
		}
		if errRead == io.EOF {
			return done, nil
		}
		if errRead != nil {
			return done, errRead
		}
	}
}

func filenameFromResponse(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return name
			}
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		if base := path.Base(resp.Request.URL.Path); base != "/" && base != "." {
			return base
		}
	}
	return ""
}

// safeJoin joins dir and name, refusing names that resolve anywhere but directly inside dir.
func safeJoin(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	target := filepath.Join(dir, name)
	if filepath.Dir(target) != filepath.Clean(dir) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	return target, nil
}

func (l *Loader) sendsKeyTo(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, h := range l.authHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
