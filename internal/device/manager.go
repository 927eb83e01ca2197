package device

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Manager stores devices by stable identifier.
type Manager struct {
	mu    sync.RWMutex
	items map[string]Device
	order []string
}

// NewManager creates an empty device manager.
func NewManager() *Manager {
	return &Manager{items: make(map[string]Device)}
}

// Register adds a device to the manager.
func (m *Manager) Register(dev Device) error {
	if dev == nil {
		return ErrDeviceNil
	}
	id := strings.TrimSpace(dev.ID())
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}
	m.items[id] = dev
	m.order = append(m.order, id)
	return nil
}

// Device returns a device by id.
func (m *Manager) Device(id string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.items[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return dev, nil
}

// LocalDevice returns the first registered device of kind local.
func (m *Manager) LocalDevice() (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if dev := m.items[id]; dev.Kind() == KindLocal {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: kind=%s", ErrDeviceNotFound, KindLocal)
}

// Devices returns devices with deterministic ordering by id.
func (m *Manager) Devices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]Device, 0, len(m.items))
	for _, dev := range m.items {
		list = append(list, dev)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID() < list[j].ID()
	})
	return list
}

// Close closes and forgets every device, combining their errors.
func (m *Manager) Close() error {
	m.mu.Lock()
	items := m.items
	order := m.order
	m.items = make(map[string]Device)
	m.order = nil
	m.mu.Unlock()

	var err error
	for _, id := range order {
		if cerr := items[id].Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", id, cerr))
		}
	}
	return err
}
