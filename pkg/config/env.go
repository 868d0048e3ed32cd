package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local then .env from the working directory.
// Variables already set in the process win; missing files are skipped.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\$|\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandEnv replaces ${VAR}, ${VAR:-default} and $VAR references in s.
// $$ yields a literal $, so hook commands can defer expansion to run time.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if match == "$$" {
			return "$"
		}
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]
			if idx := strings.Index(inner, ":-"); idx != -1 {
				if val := os.Getenv(inner[:idx]); val != "" {
					return val
				}
				return inner[idx+2:]
			}
			return os.Getenv(inner)
		}
		return os.Getenv(match[1:])
	})
}

// expandEnvVars recursively expands variables in every string of a
// decoded document.
func expandEnvVars(input map[string]any) map[string]any {
	result := make(map[string]any, len(input))
	for k, v := range input {
		result[k] = expandValue(v)
	}
	return result
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return ExpandEnv(val)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = expandValue(item)
		}
		return result
	default:
		return v
	}
}
