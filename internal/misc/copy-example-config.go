// Package misc holds small filesystem helpers used at startup.
package misc

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// CopyConfigTemplate copies the config template at src to dst, creating parent directories.
func CopyConfigTemplate(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := in.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close source config file")
		}
	}()

	if err = os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := out.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close destination config file")
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// EnsureConfigFile creates dst from the template when dst does not exist yet.
// It reports whether a file was created. A missing template is not an error.
func EnsureConfigFile(template, dst string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("inspect config %s: %w", dst, err)
	}
	if _, err := os.Stat(template); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("inspect config template %s: %w", template, err)
	}
	if err := CopyConfigTemplate(template, dst); err != nil {
		return false, fmt.Errorf("copy config template: %w", err)
	}
	log.Infof("config initialized from template: %s", dst)
	return true, nil
}
