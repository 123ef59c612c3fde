package civitai

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

// acceptEncoding is sent on every API request. Setting it by hand disables the
// transport's transparent gzip, so decodeBody handles all of them.
const acceptEncoding = "br, zstd, gzip"

// decodeBody reverses the Content-Encoding of a fully read response body.
func decodeBody(contentEncoding string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return data, nil
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("civitai: failed to create gzip reader: %w", err)
		}
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("civitai: failed to close gzip reader")
			}
		}()
		return readAllDecoded(reader, "gzip")
	case "deflate":
		reader := flate.NewReader(bytes.NewReader(data))
		defer func() {
			_ = reader.Close()
		}()
		return readAllDecoded(reader, "deflate")
	case "br":
		return readAllDecoded(brotli.NewReader(bytes.NewReader(data)), "brotli")
	case "zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("civitai: failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		return readAllDecoded(decoder, "zstd")
	default:
		return nil, fmt.Errorf("civitai: unsupported content encoding %q", contentEncoding)
	}
}

func readAllDecoded(r io.Reader, name string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("civitai: failed to decompress %s data: %w", name, err)
	}
	return out, nil
}
