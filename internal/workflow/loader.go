package workflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed phases.yaml
var defaultPhases []byte

// DefaultDefinition returns the built-in five phase definition.
func DefaultDefinition() Definition {
	def, err := ParseDefinitionYAML(defaultPhases)
	if err != nil {
		panic(fmt.Sprintf("workflow: embedded definition: %v", err))
	}
	return def
}

// ParseDefinitionYAML decodes a phase definition from YAML/JSON bytes.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("workflow: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return def.Normalized()
}

// LoadDefinitionReader reads definition data from an io.Reader.
func LoadDefinitionReader(r io.Reader) (Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: read definition: %w", err)
	}
	return ParseDefinitionYAML(content)
}

// LoadDefinitionFile loads a definition from path. An empty path yields the
// built-in definition.
func LoadDefinitionFile(path string) (Definition, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultDefinition(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	def, parseErr := ParseDefinitionYAML(content)
	if parseErr != nil {
		return Definition{}, fmt.Errorf("workflow: %s: %w", path, parseErr)
	}
	return def, nil
}
