package config

import (
	"fmt"
	"os"
	"strings"

	gotoml "github.com/pelletier/go-toml/v2"
)

const KindInjectctl = "injectctl"

// Template renders the defaults for kind as a commented TOML document.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindInjectctl:
		return injectctlTemplate()
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func injectctlTemplate() (string, error) {
	def := DefaultRun()
	out, err := gotoml.Marshal(File{
		DeviceID:       def.Device.ID,
		DeviceName:     def.Device.Name,
		Entry:          def.Entry,
		Data:           def.Data,
		WaitUninjected: def.Wait,
		Helper:         def.Device.Helper,
		PollInterval:   def.Device.PollInterval.String(),
	})
	if err != nil {
		return "", fmt.Errorf("render injectctl template: %w", err)
	}
	return string(out), nil
}
