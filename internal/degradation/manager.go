package degradation

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/longregen/marlowe/internal/metrics"
	"github.com/longregen/marlowe/shared/preferences"
)

// Mode is the current operating posture of the assistant.
type Mode string

const (
	ModeOnline   Mode = "online"
	ModeDegraded Mode = "degraded"
	ModeOffline  Mode = "offline"
	ModeError    Mode = "error"
)

const probeInterval = 10 * time.Second

// State is the externally visible degradation state. It is a value, so
// readers always get a consistent snapshot. The health fields (latency,
// success rate, error count, queue depth, last successful connection)
// are filled in at read time from the live windows.
type State struct {
	Mode        Mode    `json:"mode"`
	Quality     Quality `json:"quality"`
	IsAvailable bool    `json:"is_available"`
	CanSend     bool    `json:"can_send"`
	CanReceive  bool    `json:"can_receive"`
	QueuedCount int     `json:"queued_count"`
	Reason      string  `json:"reason,omitempty"`

	LatencyMs   int64   `json:"latency_ms"`
	SuccessRate float64 `json:"success_rate"`
	ErrorCount  int     `json:"error_count"`

	LastSuccessfulConnection time.Time `json:"last_successful_connection,omitzero"`
}

// ProbeFunc checks whether the backend is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// event is an input to the manager's single-writer loop. All state
// mutations flow through the events channel, so mode transitions are
// serialized without readers ever blocking a turn.
type event struct {
	kind    eventKind
	err     error
	latency time.Duration
}

type eventKind int

const (
	evConnected eventKind = iota
	evDisconnected
	evRequestOK
	evRequestFailed
	evFatal
)

// Manager derives the operating mode from connection signals and health
// assessment. Mode is a pure function of (connected, last error, rolling
// quality); the manager only changes it when an event arrives.
type Manager struct {
	health *HealthTracker
	queue  *Queue
	probe  ProbeFunc

	events chan event
	done   chan struct{}

	// Inputs to derive. Only the event loop (or pre-Run setup) writes
	// these.
	connected        bool
	lastErr          error
	fatal            error
	offlineMessaging bool

	mu          sync.RWMutex
	state       State
	lastSuccess time.Time
	listeners   []func(State)
}

func NewManager(queue *Queue, probe ProbeFunc) *Manager {
	m := &Manager{
		health:           NewHealthTracker(),
		queue:            queue,
		probe:            probe,
		events:           make(chan event, 64),
		done:             make(chan struct{}),
		offlineMessaging: preferences.Get().OfflineMessagingEnabled,
	}
	m.state = m.derive()
	return m
}

// SetOfflineMessaging configures whether offline and error modes accept
// sends into the queue. Call before Run.
func (m *Manager) SetOfflineMessaging(enabled bool) {
	m.offlineMessaging = enabled
	m.mu.Lock()
	m.state = m.derive()
	m.mu.Unlock()
}

// Run drives the event loop and the periodic probe until ctx is
// cancelled. Call it once, from its own goroutine. The probe only fires
// while connected: its outcomes feed the same rolling window as real
// requests, so a quiet-but-sick connection still degrades, and a
// connection stuck in error mode can earn its way back out.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.apply(ctx, ev)
		case <-ticker.C:
			if m.probe == nil || !m.connected {
				continue
			}
			start := time.Now()
			if err := m.probe(ctx); err != nil {
				m.apply(ctx, event{kind: evRequestFailed, err: err})
			} else {
				m.apply(ctx, event{kind: evRequestOK, latency: time.Since(start)})
			}
		}
	}
}

// Wait blocks until Run has exited.
func (m *Manager) Wait() {
	<-m.done
}

// ReportConnected signals that the transport established a connection.
func (m *Manager) ReportConnected() {
	m.send(event{kind: evConnected})
}

// ReportDisconnected signals that the transport lost its connection. The
// error decides whether the loss reads as plain offline or as an error
// condition (timeouts and name-resolution failures).
func (m *Manager) ReportDisconnected(err error) {
	m.send(event{kind: evDisconnected, err: err})
}

// ReportRequest records the outcome of one backend round trip.
func (m *Manager) ReportRequest(latency time.Duration, err error) {
	if err != nil {
		m.send(event{kind: evRequestFailed, err: err})
		return
	}
	m.send(event{kind: evRequestOK, latency: latency})
}

// ReportFatal signals an unrecoverable condition (bad credentials, wiped
// local state). The manager stays in ModeError until ReportConnected.
func (m *Manager) ReportFatal(err error) {
	m.send(event{kind: evFatal, err: err})
}

func (m *Manager) send(ev event) {
	select {
	case m.events <- ev:
	default:
		// A full event channel means the loop is wedged; dropping a
		// health sample is preferable to blocking a caller.
		slog.Warn("degradation event dropped, channel full")
	}
}

func (m *Manager) apply(ctx context.Context, ev event) {
	m.mu.RLock()
	prev := m.state
	m.mu.RUnlock()

	switch ev.kind {
	case evConnected:
		m.connected = true
		m.lastErr = nil
		m.fatal = nil
		m.health.Reset()
		m.markSuccess()
	case evDisconnected:
		// ev.err may be nil: a clean disconnect carries no error detail
		// and must not inherit one from an earlier failed request.
		m.connected = false
		m.lastErr = ev.err
	case evRequestOK:
		m.health.RecordSuccess(ev.latency)
		m.lastErr = nil
		m.markSuccess()
	case evRequestFailed:
		m.health.RecordError()
		m.lastErr = ev.err
	case evFatal:
		m.fatal = ev.err
	}

	next := m.derive()
	if next == prev {
		return
	}

	m.mu.Lock()
	m.state = next
	listeners := m.listeners
	m.mu.Unlock()

	metrics.DegradationMode.Set(modeValue(next.Mode))

	if next.Mode != prev.Mode {
		slog.InfoContext(ctx, "degradation mode changed",
			"from", prev.Mode, "to", next.Mode, "quality", next.Quality, "reason", next.Reason)
	}

	snapshot := m.State()
	for _, fn := range listeners {
		if fn != nil {
			fn(snapshot)
		}
	}
}

func (m *Manager) markSuccess() {
	m.mu.Lock()
	m.lastSuccess = time.Now().UTC()
	m.mu.Unlock()
}

// derive computes the mode from the connection flag, the last error, a
// fatal error, and the rolling quality. Given the same inputs it always
// produces the same state; it has no side effects.
//
// Connected: excellent/good is online, poor is degraded, critical is
// error. Disconnected: a transient-looking error (timeout, name
// resolution) reads as error, anything else as plain offline. In both
// error and offline, sending is queue-only and allowed only when offline
// messaging is enabled.
func (m *Manager) derive() State {
	quality := m.health.Assess()

	if m.fatal != nil {
		return State{
			Mode:    ModeError,
			Quality: quality,
			CanSend: m.offlineMessaging,
			Reason:  m.fatal.Error(),
		}
	}

	if !m.connected {
		s := State{Quality: quality, CanSend: m.offlineMessaging}
		if isTransientError(m.lastErr) {
			s.Mode = ModeError
		} else {
			s.Mode = ModeOffline
		}
		if m.lastErr != nil {
			s.Reason = m.lastErr.Error()
		}
		return s
	}

	s := State{Quality: quality}
	if m.lastErr != nil {
		s.Reason = m.lastErr.Error()
	}
	switch quality {
	case QualityCritical:
		s.Mode = ModeError
		s.CanSend = m.offlineMessaging
	case QualityPoor:
		s.Mode = ModeDegraded
		s.IsAvailable = true
		s.CanSend = true
		s.CanReceive = true
	default:
		s.Mode = ModeOnline
		s.IsAvailable = true
		s.CanSend = true
		s.CanReceive = true
		s.Reason = ""
	}
	return s
}

// isTransientError reports whether a connection loss looks like a
// transient network failure rather than a deliberate or clean close.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "name resolution")
}

// State returns a snapshot of the current degradation state, including
// the live health numbers and queue depth.
func (m *Manager) State() State {
	m.mu.RLock()
	s := m.state
	s.LastSuccessfulConnection = m.lastSuccess
	m.mu.RUnlock()

	s.QueuedCount = m.queue.Len()
	s.LatencyMs = m.health.AverageLatency().Milliseconds()
	s.SuccessRate = m.health.SuccessRate()
	s.ErrorCount = m.health.ErrorCount()
	return s
}

// Subscribe registers a listener invoked on every state change, from the
// manager's loop goroutine. Listeners must not block. The returned func
// removes the listener.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.listeners[idx] = nil
		m.mu.Unlock()
	}
}

// Queue exposes the offline queue for the transport to drain on recovery.
func (m *Manager) Queue() *Queue {
	return m.queue
}

func modeValue(mode Mode) float64 {
	switch mode {
	case ModeOnline:
		return 0
	case ModeDegraded:
		return 1
	case ModeOffline:
		return 2
	default:
		return 3
	}
}
