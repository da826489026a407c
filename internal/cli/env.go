package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVar overrides the --env flag when set.
const EnvFileVar = "FIRSTLISTING_ENV_FILE"

// EnvLoader loads a .env file chosen by flag, override variable or default.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}
	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load overloads the process environment from the first readable candidate
// and returns its path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	candidates := l.candidates()
	for _, path := range candidates {
		if err := godotenv.Overload(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no env file could be loaded (tried %s)", strings.Join(candidates, ", "))
}

func (l *EnvLoader) candidates() []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	add(os.Getenv(EnvFileVar))
	requested := ""
	if l.value != nil {
		requested = *l.value
	}
	add(requested)
	if base := filepath.Base(strings.TrimSpace(requested)); base != "." && base != string(filepath.Separator) {
		add(base)
	}
	add(l.defaultPath)
	return out
}
