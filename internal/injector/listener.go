package injector

import (
	"sync"

	"github.com/danmuck/injectctl/internal/device"
)

// uninjectedListener is connected before the injection request so that no
// notification is missed. Deliveries that arrive before the id is granted
// are held until grant.
type uninjectedListener struct {
	sig *device.Signal[device.InjectionID]

	mu        sync.Mutex
	handlerID device.HandlerID
	connected bool
	granted   device.InjectionID
	early     map[device.InjectionID]struct{}
	fired     bool
	delivered chan device.InjectionID
}

func listenUninjected(sig *device.Signal[device.InjectionID]) *uninjectedListener {
	l := &uninjectedListener{
		sig:       sig,
		early:     make(map[device.InjectionID]struct{}),
		delivered: make(chan device.InjectionID, 1),
	}
	l.mu.Lock()
	l.handlerID = sig.Connect(l.handle)
	l.connected = true
	l.mu.Unlock()
	return l
}

func (l *uninjectedListener) handle(id device.InjectionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || l.fired {
		return
	}
	if l.granted == 0 {
		// Repeated ids are held once.
		l.early[id] = struct{}{}
		return
	}
	if id != l.granted {
		return
	}
	l.fireLocked(id)
}

// grant records the acknowledged id and replays any early delivery.
func (l *uninjectedListener) grant(id device.InjectionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.granted = id
	_, seen := l.early[id]
	clear(l.early)
	if seen && l.connected && !l.fired {
		l.fireLocked(id)
	}
}

func (l *uninjectedListener) fireLocked(id device.InjectionID) {
	l.fired = true
	l.disconnectLocked()
	l.delivered <- id
}

func (l *uninjectedListener) disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectLocked()
}

func (l *uninjectedListener) disconnectLocked() {
	if !l.connected {
		return
	}
	l.sig.Disconnect(l.handlerID)
	l.connected = false
}

func (l *uninjectedListener) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}
