// Package schema builds the database-ready result records that harnessed
// jobs hand back to the eTraveler ingest (the summary.lims file). Records
// keep their field order so the emitted JSON matches what the ingest side
// diffs against.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/persistence"
)

// DefaultDataType is the data catalog type for sensor test products.
const DefaultDataType = "LSSTSENSORTEST"

// Field is one named entry of a Record.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for building a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Record is a validated result entry for a named schema.
type Record struct {
	Schema string
	Fields []Field
}

// Valid builds a Record for schemaName with the given fields.
func Valid(schemaName string, fields ...Field) Record {
	return Record{Schema: schemaName, Fields: fields}
}

// Get returns the value for key, or nil.
func (r Record) Get(key string) any {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// MarshalJSON emits the record as a flat object with schema_name first and
// the remaining fields in insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"schema_name":`)
	name, err := json.Marshal(r.Schema)
	if err != nil {
		return nil, err
	}
	buf.Write(name)
	for _, f := range r.Fields {
		buf.WriteByte(',')
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("schema %s field %s: %w", r.Schema, f.Key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat record object back, preserving the field
// order of the document.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("schema: record must be a JSON object")
	}
	r.Schema = ""
	r.Fields = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("schema: non-string record key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if key == "schema_name" {
			name, ok := value.(string)
			if !ok {
				return fmt.Errorf("schema: schema_name must be a string")
			}
			r.Schema = name
			continue
		}
		r.Fields = append(r.Fields, F(key, value))
	}
	_, err = dec.Token()
	return err
}

// Fileref registers a data product file with the eTraveler, optionally
// staging it into a folder first.
type Fileref struct {
	Path     string
	DataType string
	Metadata map[string]string
}

// MakeFileref builds a Fileref for currentPath. If folder is non-empty the
// file is copied there and the fileref points at the copy.
func MakeFileref(currentPath, folder, datatype string, metadata map[string]string) (Fileref, error) {
	if datatype == "" {
		datatype = DefaultDataType
	}
	if folder != "" {
		if err := os.MkdirAll(folder, 0755); err != nil {
			return Fileref{}, err
		}
		newPath := filepath.Join(folder, filepath.Base(currentPath))
		if err := copyFile(currentPath, newPath); err != nil {
			return Fileref{}, err
		}
		currentPath = newPath
	}
	return Fileref{Path: currentPath, DataType: datatype, Metadata: metadata}, nil
}

// Record converts the fileref to its summary record form.
func (f Fileref) Record() Record {
	return Valid("fileref",
		F("path", f.Path),
		F("datatype", f.DataType),
		F("metadata", f.Metadata))
}

// WriteSummary persists records as the job's summary.lims JSON file.
func WriteSummary(records []Record, filename string) error {
	return persistence.WriteJSONFile(records, filename)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
