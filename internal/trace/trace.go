// Package trace reads and writes recorded keystroke event streams.
//
// A trace is a versioned JSON or YAML document listing keydown, keyup,
// paste and input events with their timestamps, trust flags and key kind.
// Traces never carry key identity. Every document is validated against an
// embedded JSON Schema before it is decoded.
package trace

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"keycadence/internal/observer"
)

// Version is the trace document version this package reads and writes.
const Version = 1

// ErrInvalidTrace is returned for documents that fail schema validation or
// carry out-of-order events.
var ErrInvalidTrace = errors.New("invalid trace")

//go:embed trace.schema.json
var schemaJSON string

const schemaURL = "https://keycadence.dev/schema/trace-v1.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Format is a trace encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from a file extension. Unknown extensions
// are treated as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Modifiers mirrors observer.Modifiers with serialisation tags.
type Modifiers struct {
	Shift   bool `json:"shift,omitempty" yaml:"shift,omitempty"`
	Control bool `json:"control,omitempty" yaml:"control,omitempty"`
	Alt     bool `json:"alt,omitempty" yaml:"alt,omitempty"`
	Meta    bool `json:"meta,omitempty" yaml:"meta,omitempty"`
}

func (m *Modifiers) empty() bool {
	return m == nil || !(m.Shift || m.Control || m.Alt || m.Meta)
}

// Event is one recorded event. Trusted defaults to true when absent.
type Event struct {
	Type        observer.EventType `json:"type" yaml:"type"`
	TimestampMs float64            `json:"timestamp_ms" yaml:"timestamp_ms"`
	Trusted     *bool              `json:"trusted,omitempty" yaml:"trusted,omitempty"`
	Repeat      bool               `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	Kind        string             `json:"kind,omitempty" yaml:"kind,omitempty"`
	Modifiers   *Modifiers         `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
}

// Document is a complete trace.
type Document struct {
	Version int     `json:"version" yaml:"version"`
	Source  string  `json:"source,omitempty" yaml:"source,omitempty"`
	Events  []Event `json:"events" yaml:"events"`
}

// Validate checks raw trace bytes against the schema without decoding them
// into a Document.
func Validate(data []byte, format Format) error {
	instance, err := decodeGeneric(data, format)
	if err != nil {
		return err
	}
	s, err := compiled()
	if err != nil {
		return err
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrace, err)
	}
	return nil
}

// decodeGeneric produces the map/slice/float64 form the validator expects.
// YAML is round-tripped through JSON so numbers and keys take that shape.
func decodeGeneric(data []byte, format Format) (any, error) {
	var instance any
	switch format {
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: decode YAML: %v", ErrInvalidTrace, err)
		}
		buf, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: convert YAML: %v", ErrInvalidTrace, err)
		}
		data = buf
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unknown trace format %q", format)
	}
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: decode JSON: %v", ErrInvalidTrace, err)
	}
	return instance, nil
}

// Parse validates and decodes a trace.
func Parse(data []byte, format Format) (*Document, error) {
	if err := Validate(data, format); err != nil {
		return nil, err
	}

	var doc Document
	var err error
	if format == FormatYAML {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrace, err)
	}

	for i := 1; i < len(doc.Events); i++ {
		if doc.Events[i].TimestampMs < doc.Events[i-1].TimestampMs {
			return nil, fmt.Errorf("%w: event %d at %.3f ms precedes event %d at %.3f ms",
				ErrInvalidTrace, i, doc.Events[i].TimestampMs, i-1, doc.Events[i-1].TimestampMs)
		}
	}
	return &doc, nil
}

// Load reads and parses the trace at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return Parse(data, FormatFor(path))
}

// FromEvents builds a document from an observer event stream.
func FromEvents(source string, events []observer.Event) *Document {
	doc := &Document{Version: Version, Source: source, Events: make([]Event, 0, len(events))}
	for _, ev := range events {
		te := Event{
			Type:        ev.Type,
			TimestampMs: ev.Timestamp,
			Repeat:      ev.Repeat,
		}
		if !ev.Trusted {
			f := false
			te.Trusted = &f
		}
		if ev.Type == observer.EventKeyDown || ev.Type == observer.EventKeyUp {
			if ev.Kind != observer.KeyOther {
				te.Kind = ev.Kind.String()
			}
			m := Modifiers(ev.Modifiers)
			if !m.empty() {
				te.Modifiers = &m
			}
		}
		doc.Events = append(doc.Events, te)
	}
	return doc
}

// ObserverEvents converts the document back to observer events.
func (d *Document) ObserverEvents() []observer.Event {
	out := make([]observer.Event, 0, len(d.Events))
	for _, te := range d.Events {
		ev := observer.Event{
			Type:      te.Type,
			Timestamp: te.TimestampMs,
			Trusted:   te.Trusted == nil || *te.Trusted,
			Repeat:    te.Repeat,
			Kind:      parseKind(te.Kind),
		}
		if te.Modifiers != nil {
			ev.Modifiers = observer.Modifiers(*te.Modifiers)
		}
		out = append(out, ev)
	}
	return out
}

func parseKind(s string) observer.KeyKind {
	switch s {
	case "backspace":
		return observer.KeyBackspace
	case "delete":
		return observer.KeyDelete
	default:
		return observer.KeyOther
	}
}

// Replay delivers every event to src in order.
func (d *Document) Replay(src *observer.SimulatedSource) {
	src.Replay(d.ObserverEvents())
}

// Write encodes the document.
func Write(w io.Writer, d *Document, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown trace format %q", format)
	}
}

// Save writes the document to path in the format its extension implies.
func Save(path string, d *Document) error {
	var buf bytes.Buffer
	if err := Write(&buf, d, FormatFor(path)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create trace directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// Fingerprint is the hex BLAKE2b-256 digest of the events' canonical JSON
// form. Source and encoding do not affect it.
func Fingerprint(d *Document) string {
	data, _ := json.Marshal(struct {
		Version int     `json:"version"`
		Events  []Event `json:"events"`
	}{d.Version, d.Events})
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
