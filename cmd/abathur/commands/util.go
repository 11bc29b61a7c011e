package commands

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odgrim/abathur/internal/task"
)

// parseRFC3339 parses an absolute timestamp flag value, wrapping a parse
// failure as an InvalidField validation error.
func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, task.ErrInvalidField(fmt.Sprintf("timestamp %q: %v", s, err))
	}
	return t, nil
}

// printYAML renders v as YAML for --format yaml output on the scriptable
// read commands (status, plan).
func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(v)
}
