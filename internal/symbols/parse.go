package symbols

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidJSON is returned when the symbol list text is not a JSON object
// of string values.
var ErrInvalidJSON = errors.New("symbols: invalid JSON in symbol list")

// Parse decodes a JSON object mapping names to tags. Key order is preserved.
// Anything other than a single object of string values is rejected with an
// error wrapping ErrInvalidJSON.
func Parse(text string) (Table, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Table{}, invalid("%v", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Table{}, invalid("expected an object, got %v", tok)
	}

	var entries []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Table{}, invalid("%v", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return Table{}, invalid("unexpected key %v", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return Table{}, invalid("%v", err)
		}
		tag, ok := valTok.(string)
		if !ok {
			return Table{}, invalid("value for %q must be a string", name)
		}
		entries = append(entries, Entry{Name: name, Tag: tag})
	}
	if _, err := dec.Token(); err != nil {
		return Table{}, invalid("%v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Table{}, invalid("trailing data after object")
	}
	return New(entries...), nil
}

// ParseYAML decodes a YAML mapping of names to tags, preserving key order.
func ParseYAML(data []byte) (Table, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Table{}, fmt.Errorf("symbols: yaml payload is empty")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Table{}, fmt.Errorf("symbols: decode yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Table{}, fmt.Errorf("symbols: yaml document is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Table{}, fmt.Errorf("symbols: line %d: expected a mapping of name to tag", root.Line)
	}
	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode || val.Kind != yaml.ScalarNode {
			return Table{}, fmt.Errorf("symbols: line %d: name and tag must be scalars", key.Line)
		}
		entries = append(entries, Entry{Name: key.Value, Tag: val.Value})
	}
	return New(entries...), nil
}

// LoadFile reads a symbol list from disk. Files ending in .yaml or .yml are
// parsed as YAML; everything else is treated as JSON.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("symbols: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		table, err := ParseYAML(data)
		if err != nil {
			return Table{}, fmt.Errorf("%s: %w", path, err)
		}
		return table, nil
	default:
		table, err := Parse(string(data))
		if err != nil {
			return Table{}, fmt.Errorf("%s: %w", path, err)
		}
		return table, nil
	}
}

// MarshalJSON renders the table as a JSON object in table order.
func (t Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Tag)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidJSON, fmt.Sprintf(format, args...))
}
