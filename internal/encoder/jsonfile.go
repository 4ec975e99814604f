package encoder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxContainerBytes bounds the size of a container accepted by ReadFile.
const maxContainerBytes = 512 << 20

// ReadFile loads a JSON waveform container from disk.
func ReadFile(path string) (*File, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".json" {
		return nil, fmt.Errorf("container must be a .json file, got %q", ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	defer f.Close()

	c, err := Decode(io.LimitReader(f, maxContainerBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Decode parses a JSON waveform container.
func Decode(r io.Reader) (*File, error) {
	var c File
	dec := json.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse container: %w", err)
	}
	for i, g := range c.Groups {
		if g == nil || g.Name == "" {
			return nil, fmt.Errorf("group %d has no name", i)
		}
	}
	return &c, nil
}

// Encode writes a container as JSON.
func Encode(w io.Writer, c *File) error {
	enc := json.NewEncoder(w)
	return enc.Encode(c)
}
