package roster

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
)

// ReadFile reads a roster export from disk. Files ending in ".br" are
// brotli-compressed exports and are decompressed transparently.
func ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roster: open %s: %w", path, err)
	}
	return Unwrap(path, b)
}

// Unwrap decompresses b when name carries the ".br" suffix and returns it
// unchanged otherwise.
func Unwrap(name string, b []byte) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(name), ".br") {
		return b, nil
	}
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(b)))
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", name, err)
	}
	return out, nil
}
