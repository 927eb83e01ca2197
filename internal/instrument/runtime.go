package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/injectctl/internal/observability"
	"github.com/rs/zerolog"
)

const DefaultQueueSize = 64

var (
	ErrRuntimeUnloaded = errors.New("instrument: runtime unloaded")
	ErrAlreadyLoaded   = errors.New("instrument: script already loaded")
	ErrNilScript       = errors.New("instrument: nil script")
	ErrInvalidChannel  = errors.New("instrument: invalid channel")
)

// Message is one host-observable message sent by a script.
type Message struct {
	Channel string
	Payload []byte
}

// MessageHandler receives script messages on the host side.
type MessageHandler func(channel string, payload []byte)

// Script is a script body run once by Runtime.Load.
type Script func(rt *Runtime) error

// Option configures a Runtime.
type Option func(*Runtime)

func WithQueueSize(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) {
		r.log = l
	}
}

// Runtime is the context one loaded script runs in.
type Runtime struct {
	name      string
	exports   *Exports
	handler   MessageHandler
	log       zerolog.Logger
	queueSize int
	messages  chan Message

	mu          sync.Mutex
	loaded      bool
	attachments []*Attachment
	stopped     chan struct{}
	stopOnce    sync.Once
}

// NewRuntime creates a runtime for a script named name over exports.
// handler may be nil, in which case messages are logged and dropped.
func NewRuntime(name string, exports *Exports, handler MessageHandler, opts ...Option) *Runtime {
	r := &Runtime{
		name:      name,
		exports:   exports,
		handler:   handler,
		log:       observability.Component("instrument.runtime"),
		queueSize: DefaultQueueSize,
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("script", name).Logger()
	r.messages = make(chan Message, r.queueSize)
	return r
}

func (r *Runtime) Name() string { return r.name }

// Module returns the export table scripts resolve symbols from.
func (r *Runtime) Module() *Exports { return r.exports }

// Log writes a console line from the script.
func (r *Runtime) Log(format string, args ...any) {
	r.log.Info().Msgf(format, args...)
}

// Send queues payload on channel for the host handler. It blocks while the
// queue is full and fails once the runtime is unloaded.
func (r *Runtime) Send(channel string, payload []byte) error {
	if strings.TrimSpace(channel) == "" {
		return ErrInvalidChannel
	}
	msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	select {
	case <-r.stopped:
		return ErrRuntimeUnloaded
	default:
	}
	select {
	case r.messages <- msg:
		return nil
	case <-r.stopped:
		return ErrRuntimeUnloaded
	}
}

// Attach attaches l through the table's interceptor and detaches it again
// on Unload.
func (r *Runtime) Attach(sym Symbol, l Listener) (*Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isStopped() {
		return nil, ErrRuntimeUnloaded
	}
	a, err := r.exports.Interceptor().Attach(sym, l)
	if err != nil {
		return nil, err
	}
	r.attachments = append(r.attachments, a)
	return a, nil
}

// Load runs script once. A script error aborts the load and unloads the
// runtime.
func (r *Runtime) Load(script Script) error {
	if script == nil {
		return ErrNilScript
	}
	r.mu.Lock()
	if r.isStopped() {
		r.mu.Unlock()
		return ErrRuntimeUnloaded
	}
	if r.loaded {
		r.mu.Unlock()
		return ErrAlreadyLoaded
	}
	r.loaded = true
	r.mu.Unlock()

	if err := script(r); err != nil {
		r.log.Error().Err(err).Msg("instrument.Runtime.Load script aborted")
		r.Unload()
		return fmt.Errorf("load %s: %w", r.name, err)
	}
	r.log.Debug().Msg("instrument.Runtime.Load done")
	return nil
}

// RunEventLoop delivers queued messages to the handler until ctx is done or
// the runtime is unloaded. Messages queued before unload are still
// delivered.
func (r *Runtime) RunEventLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-r.messages:
			r.deliver(msg)
		case <-r.stopped:
			r.drain()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unload detaches every listener attached through this runtime and stops
// the event loop. It is safe to call more than once.
func (r *Runtime) Unload() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		attachments := r.attachments
		r.attachments = nil
		close(r.stopped)
		r.mu.Unlock()

		for _, a := range attachments {
			if err := a.Detach(); err != nil && !errors.Is(err, ErrHookNotFound) {
				r.log.Warn().Err(err).Str("symbol", a.Symbol()).Msg("instrument.Runtime.Unload detach failed")
			}
		}
		r.log.Debug().Int("detached", len(attachments)).Msg("instrument.Runtime.Unload done")
	})
}

// Done is closed once the runtime is unloaded.
func (r *Runtime) Done() <-chan struct{} {
	return r.stopped
}

func (r *Runtime) isStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

func (r *Runtime) drain() {
	for {
		select {
		case msg := <-r.messages:
			r.deliver(msg)
		default:
			return
		}
	}
}

func (r *Runtime) deliver(msg Message) {
	if r.handler == nil {
		r.log.Debug().Str("channel", msg.Channel).Int("bytes", len(msg.Payload)).Msg("instrument.Runtime message dropped")
		return
	}
	r.handler(msg.Channel, msg.Payload)
}
