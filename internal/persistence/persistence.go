// Package persistence writes job-harness data products to disk, with the
// serialization and destination behind small seams so tests can capture
// output in memory.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Options struct {
	Overwrite bool
	Prefix    string
	Indent    string
}

// DefaultOptions matches the summary.lims conventions: overwrite allowed,
// four-space indent.
func DefaultOptions() Options {
	return Options{Overwrite: true, Indent: "    "}
}

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); err == nil && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// WriteJSON persists data through the provided Serializer and Writer.
func WriteJSON(data any, filename string, serializer Serializer, writer Writer) error {
	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filename, err)
	}
	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteJSONFile is the common case: JSON with default options straight to
// the filesystem.
func WriteJSONFile(data any, filename string, opts ...Options) error {
	opt := DefaultOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	serializer := JSONSerializer{Prefix: opt.Prefix, Indent: opt.Indent}
	writer := FileWriter{Overwrite: opt.Overwrite}
	return WriteJSON(data, filename, serializer, writer)
}
