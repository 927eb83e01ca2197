package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/device/local"
	"github.com/danmuck/injectctl/internal/device/remote"
	"github.com/danmuck/injectctl/internal/injector"
)

// File mirrors the on-disk injectctl config.
type File struct {
	DeviceID       string       `toml:"device_id" comment:"device registered with the manager"`
	DeviceName     string       `toml:"device_name"`
	Entry          string       `toml:"entry" comment:"exported entry symbol called after load"`
	Data           string       `toml:"data" comment:"init token passed to the entry symbol"`
	WaitUninjected bool         `toml:"wait_uninjected" comment:"stay attached until the agent is unloaded"`
	Helper         string       `toml:"helper" comment:"executable that performs the load step"`
	PollInterval   string       `toml:"poll_interval" comment:"target liveness poll interval"`
	PollIntervalMS int64        `toml:"poll_interval_ms,omitempty"`
	TempDir        string       `toml:"temp_dir,omitempty"`
	Target         string       `toml:"target,omitempty" comment:"device id to inject through, defaults to the local device"`
	Remotes        []RemoteFile `toml:"remotes,omitempty"`
}

// RemoteFile is one [[remotes]] table.
type RemoteFile struct {
	ID                          string `toml:"id"`
	Name                        string `toml:"name"`
	Host                        string `toml:"host"`
	Port                        string `toml:"port"`
	User                        string `toml:"user"`
	KeyPath                     string `toml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts_path"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking"`
	Timeout                     string `toml:"timeout"`
	Helper                      string `toml:"helper"`
	TempDir                     string `toml:"temp_dir"`
}

// Run is the resolved controller configuration.
type Run struct {
	Entry   string
	Data    string
	Wait    bool
	Target  string
	Device  local.Config
	Remotes []remote.Config
}

func DefaultRun() Run {
	return Run{
		Entry:  injector.DefaultEntry,
		Data:   injector.DefaultData,
		Wait:   true,
		Device: local.DefaultConfig(),
	}
}

// LoadRun decodes path over DefaultRun. Only keys present in the file
// override a default.
func LoadRun(path string) (Run, error) {
	cfg := DefaultRun()

	var raw File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Run{}, fmt.Errorf("load injectctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Run{}, fmt.Errorf("load injectctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("device_id") {
		if id := strings.TrimSpace(raw.DeviceID); id != "" {
			cfg.Device.ID = id
		}
	}

	if meta.IsDefined("device_name") {
		if name := strings.TrimSpace(raw.DeviceName); name != "" {
			cfg.Device.Name = name
		}
	}

	if meta.IsDefined("entry") {
		cfg.Entry = strings.TrimSpace(raw.Entry)
	}

	if meta.IsDefined("data") {
		cfg.Data = raw.Data
	}

	if meta.IsDefined("wait_uninjected") {
		cfg.Wait = raw.WaitUninjected
	}

	if meta.IsDefined("helper") {
		cfg.Device.Helper = strings.TrimSpace(raw.Helper)
	}

	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return Run{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.Device.PollInterval = d
	}

	if meta.IsDefined("poll_interval_ms") {
		cfg.Device.PollInterval = time.Duration(raw.PollIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("temp_dir") {
		cfg.Device.TempDir = strings.TrimSpace(raw.TempDir)
	}

	if meta.IsDefined("target") {
		cfg.Target = strings.TrimSpace(raw.Target)
	}

	for i, entry := range raw.Remotes {
		rc, err := remoteConfig(entry, cfg.Device.PollInterval)
		if err != nil {
			return Run{}, fmt.Errorf("remotes[%d] invalid: %w", i, err)
		}
		cfg.Remotes = append(cfg.Remotes, rc)
	}

	if err := Validate(cfg); err != nil {
		return Run{}, err
	}
	return cfg, nil
}

func Validate(cfg Run) error {
	if strings.TrimSpace(cfg.Entry) == "" {
		return fmt.Errorf("injectctl config missing entry")
	}
	if strings.TrimSpace(cfg.Device.Helper) == "" {
		return fmt.Errorf("injectctl config missing helper")
	}
	if cfg.Device.PollInterval <= 0 {
		return fmt.Errorf("injectctl config poll interval must be positive, got %v", cfg.Device.PollInterval)
	}
	ids := map[string]bool{cfg.Device.ID: true}
	for i, rc := range cfg.Remotes {
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("remotes[%d] invalid: %w", i, err)
		}
		if ids[rc.ID] {
			return fmt.Errorf("remotes[%d] invalid: duplicate device id %q", i, rc.ID)
		}
		ids[rc.ID] = true
	}
	if cfg.Target != "" && !ids[cfg.Target] {
		return fmt.Errorf("injectctl config target %q is not a configured device", cfg.Target)
	}
	return nil
}

func remoteConfig(entry RemoteFile, poll time.Duration) (remote.Config, error) {
	rc := remote.Config{
		ID:           strings.TrimSpace(entry.ID),
		Name:         strings.TrimSpace(entry.Name),
		Helper:       strings.TrimSpace(entry.Helper),
		PollInterval: poll,
		TempDir:      strings.TrimSpace(entry.TempDir),
		SSH: remote.SSHRunner{
			Host:                        strings.TrimSpace(entry.Host),
			Port:                        strings.TrimSpace(entry.Port),
			User:                        strings.TrimSpace(entry.User),
			KeyPath:                     strings.TrimSpace(entry.KeyPath),
			KnownHostsPath:              strings.TrimSpace(entry.KnownHostsPath),
			InsecureSkipHostKeyChecking: entry.InsecureSkipHostKeyChecking,
		},
	}
	if raw := strings.TrimSpace(entry.Timeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return remote.Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		rc.SSH.Timeout = d
	}
	return rc, nil
}

// Devices builds every configured device. newLocal constructs the local one
// so callers can substitute it.
func (c Run) Devices(newLocal func(local.Config) device.Device) ([]device.Device, error) {
	devs := []device.Device{newLocal(c.Device)}
	for _, rc := range c.Remotes {
		dev, err := remote.New(rc)
		if err != nil {
			return nil, err
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

// Apply copies the request-level settings onto req.
func (c Run) Apply(req *injector.Request) {
	req.Entry = c.Entry
	req.Data = c.Data
	req.Wait = c.Wait
}
