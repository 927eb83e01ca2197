package config

import (
	"os"
	"strings"
)

const EnvPath = "INJECTCTL_CONFIG"

// Resolve loads the file named by INJECTCTL_CONFIG, or returns DefaultRun
// when it is unset.
func Resolve() (Run, error) {
	path := strings.TrimSpace(os.Getenv(EnvPath))
	if path == "" {
		return DefaultRun(), nil
	}
	return LoadRun(path)
}
