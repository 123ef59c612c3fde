package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	log "github.com/sirupsen/logrus"
)

const objectMirrorModelsPrefix = "models"

// ObjectMirror keeps a copy of downloaded model files in an S3-compatible bucket so that
// other machines sharing the bucket skip the upstream download.
type ObjectMirror struct {
	client *minio.Client
	cfg    config.ObjectMirrorConfig
}

// NewObjectMirror validates cfg and creates the minio client. No network calls are made.
func NewObjectMirror(cfg config.ObjectMirrorConfig) (*ObjectMirror, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object mirror: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object mirror: bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object mirror: access key and secret key are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object mirror: create client: %w", err)
	}
	return &ObjectMirror{client: client, cfg: cfg}, nil
}

// Bootstrap ensures the bucket exists.
func (m *ObjectMirror) Bootstrap(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("object mirror: not initialized")
	}
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object mirror: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region}); err != nil {
		return fmt.Errorf("object mirror: create bucket: %w", err)
	}
	return nil
}

// Fetch downloads the mirrored file of a version into dir. found is false when the
// bucket holds nothing for the version.
func (m *ObjectMirror) Fetch(ctx context.Context, versionID, dir string) (localPath string, found bool, err error) {
	prefix := m.versionPrefix(versionID) + "/"
	// Returning mid-listing leaves the lister goroutine blocked on its next send until
	// its context ends.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for object := range m.client.ListObjects(listCtx, m.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			if isObjectNotFound(object.Err) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("object mirror: list %s: %w", prefix, object.Err)
		}
		name := strings.TrimPrefix(object.Key, prefix)
		if !isPlainFileName(name) || strings.HasSuffix(name, ".part") {
			log.WithField("key", object.Key).Warn("object mirror: skip object outside version directory")
			continue
		}
		localPath, err = m.download(ctx, object.Key, filepath.Join(dir, name))
		if err != nil {
			return "", false, err
		}
		return localPath, true, nil
	}
	return "", false, nil
}

func (m *ObjectMirror) download(ctx context.Context, key, target string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("object mirror: prepare directory: %w", err)
	}
	reader, err := m.client.GetObject(ctx, m.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("object mirror: fetch %s: %w", key, err)
	}
	defer func() {
		if errClose := reader.Close(); errClose != nil {
			log.WithError(errClose).Debug("object mirror: failed to close object reader")
		}
	}()

	part := target + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", fmt.Errorf("object mirror: create %s: %w", filepath.Base(part), err)
	}
	if _, err = io.Copy(f, reader); err != nil {
		_ = f.Close()
		_ = os.Remove(part)
		return "", fmt.Errorf("object mirror: read %s: %w", key, err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("object mirror: close %s: %w", filepath.Base(part), err)
	}
	if err = os.Rename(part, target); err != nil {
		return "", fmt.Errorf("object mirror: finalize %s: %w", filepath.Base(target), err)
	}
	return target, nil
}

// Upload copies a downloaded model file into the bucket.
func (m *ObjectMirror) Upload(ctx context.Context, versionID, localPath string) error {
	name := filepath.Base(localPath)
	if !isPlainFileName(name) {
		return fmt.Errorf("object mirror: invalid file name %q", name)
	}
	key := m.versionPrefix(versionID) + "/" + name
	_, err := m.client.FPutObject(ctx, m.cfg.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("object mirror: put object %s: %w", key, err)
	}
	return nil
}

func (m *ObjectMirror) versionPrefix(versionID string) string {
	return m.prefixedKey(objectMirrorModelsPrefix + "/" + strings.TrimSpace(versionID))
}

func (m *ObjectMirror) prefixedKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if m.cfg.Prefix == "" {
		return key
	}
	return strings.TrimLeft(m.cfg.Prefix+"/"+key, "/")
}

// isPlainFileName accepts a single path element that cannot climb out of its directory.
func isPlainFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && path.Clean(name) == name
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}
