// Package templates holds the control-logic snippets shown by the logic
// generation and validation phases. Snippets are fixed text today; the set
// is injectable so a generator can replace it without touching the phases.
package templates

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultInitial = `// Initial Translation using Constrained Symbols
IF (V-110.State == FEED)
   AND (ABS(FT-201.IN - FT-201.OUT - V-110.dWT) > P-TOL)
THEN
   V-110.Alarm_Deviation = TRUE`

const defaultFinal = `// Logic TALLIED against User Symbol List
DEVIATION = ABS(FT-201.IN - FT-201.OUT - V-110.dWT)

IF (V-110.State == FEED)
   AND (DEVIATION > P-TOL)
THEN
   DELAY_TIME = P-TIME_ALARM  // Inferred/Standardized Time Parameter
   IF (DEVIATION > P-TOL) FOR DELAY_TIME
   THEN
      V-110.Alarm_Deviation = TRUE
   END_IF
END_IF`

// Set is the pair of snippets revealed during a run.
type Set struct {
	// Initial is revealed on entering logic generation.
	Initial string `yaml:"initial"`
	// Final is revealed at the end of the validation timeline.
	Final string `yaml:"final"`
}

// Default returns the built-in snippets.
func Default() Set {
	return Set{Initial: defaultInitial, Final: defaultFinal}
}

// Validate requires both snippets to be non-blank.
func (s Set) Validate() error {
	if strings.TrimSpace(s.Initial) == "" {
		return fmt.Errorf("templates: initial snippet is empty")
	}
	if strings.TrimSpace(s.Final) == "" {
		return fmt.Errorf("templates: final snippet is empty")
	}
	return nil
}

// Parse decodes a YAML template set. Missing snippets fall back to the
// defaults.
func Parse(data []byte) (Set, error) {
	set := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return set, nil
	}
	var parsed Set
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Set{}, fmt.Errorf("templates: decode: %w", err)
	}
	if parsed.Initial != "" {
		set.Initial = strings.TrimRight(parsed.Initial, "\n")
	}
	if parsed.Final != "" {
		set.Final = strings.TrimRight(parsed.Final, "\n")
	}
	return set, set.Validate()
}

// Load reads a template set from path. An empty path returns the defaults.
func Load(path string) (Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("templates: read %s: %w", path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return Set{}, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}
