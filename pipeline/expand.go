package pipeline

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} in configuration text.
// A referenced variable that is unset and has no default is an error.
// Bare $VAR is left alone and $$ yields a literal $.
func expandEnv(s string) (string, error) {
	const dollar = "\x00hashops-dollar\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	s = envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		missing = append(missing, m[1])
		return ref
	})
	if len(missing) > 0 {
		slices.Sort(missing)
		missing = slices.Compact(missing)
		return "", fmt.Errorf("%w: unset environment variables: %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	return strings.ReplaceAll(s, dollar, "$"), nil
}
