package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/example/neighborhood-portal/internal/application"
)

const (
	DefaultInterval         = 30 * time.Second
	DefaultWarningThreshold = 5 * time.Minute
	DefaultGraceWindow      = 30 * time.Second
)

var (
	// ErrMonitorStopped is returned by Extend once Run has returned.
	ErrMonitorStopped = errors.New("session: monitor stopped")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("session: monitor already running")
)

// Refresher exchanges a refresh token for a new session.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// TerminationObserver is told why a session ended.
type TerminationObserver interface {
	ObserveTermination(reason string)
}

// LogoutReason says why the monitor ended a session.
type LogoutReason string

const (
	ReasonExpired       LogoutReason = "expired"
	ReasonRefreshFailed LogoutReason = "refresh_failed"
)

// EventKind identifies a monitor notification.
type EventKind int

const (
	EventWarning EventKind = iota + 1
	EventWarningDismissed
	EventExtended
	EventLoggedOut
)

func (k EventKind) String() string {
	switch k {
	case EventWarning:
		return "warning"
	case EventWarningDismissed:
		return "warning_dismissed"
	case EventExtended:
		return "extended"
	case EventLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Event is emitted on the monitor's Events channel.
type Event struct {
	Kind      EventKind
	ExpiresAt time.Time
	Remaining time.Duration
	Reason    LogoutReason
}

// Config tunes a Monitor. Zero durations use the defaults.
type Config struct {
	Interval         time.Duration
	WarningThreshold time.Duration
	GraceWindow      time.Duration
	Now              func() time.Time
	// OnLogout runs after a forced logout has cleared the store.
	OnLogout         func(LogoutReason)
	Observer         TerminationObserver
	Logger           *slog.Logger
}

type extendRequest struct {
	ctx   context.Context
	reply chan error
}

// Monitor watches the stored session. All state changes happen on the Run
// goroutine; Foreground, Extend and Dismiss hand work to it.
type Monitor struct {
	store     *Store
	refresher Refresher
	interval  time.Duration
	threshold time.Duration
	grace     time.Duration
	now       func() time.Time
	onLogout  func(LogoutReason)
	observer  TerminationObserver
	logger    *slog.Logger

	newTicker func(time.Duration) (<-chan time.Time, func())
	newTimer  func(time.Duration) (<-chan time.Time, func())

	events     chan Event
	foreground chan struct{}
	dismiss    chan struct{}
	extend     chan extendRequest
	done       chan struct{}
	running    atomic.Bool

	warnedFor     time.Time
	warningActive bool
	graceC        <-chan time.Time
	stopGrace     func()
}

func NewMonitor(store *Store, refresher Refresher, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = DefaultWarningThreshold
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		store:      store,
		refresher:  refresher,
		interval:   cfg.Interval,
		threshold:  cfg.WarningThreshold,
		grace:      cfg.GraceWindow,
		now:        cfg.Now,
		onLogout:   cfg.OnLogout,
		observer:   cfg.Observer,
		logger:     cfg.Logger.With("component", "SessionMonitor"),
		newTicker:  realTicker,
		newTimer:   realTimer,
		events:     make(chan Event, 16),
		foreground: make(chan struct{}, 1),
		dismiss:    make(chan struct{}, 1),
		extend:     make(chan extendRequest),
		done:       make(chan struct{}),
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func realTimer(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// Events delivers notifications. The channel is closed when Run returns.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Run evaluates the session immediately, then on every tick and foreground
// signal, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	tick, stopTicker := m.newTicker(m.interval)
	defer func() {
		stopTicker()
		m.clearWarning()
		close(m.done)
		close(m.events)
	}()

	m.evaluate()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			m.evaluate()
		case <-m.foreground:
			m.evaluate()
		case <-m.graceC:
			m.graceC = nil
			m.stopGrace = nil
			if m.warningActive {
				m.warningActive = false
				m.emit(Event{Kind: EventWarningDismissed})
			}
		case <-m.dismiss:
			m.clearWarning()
		case req := <-m.extend:
			req.reply <- m.handleExtend(req.ctx)
		}
	}
}

// Foreground asks for an immediate re-evaluation, e.g. when the app resumes.
func (m *Monitor) Foreground() {
	select {
	case m.foreground <- struct{}{}:
	default:
	}
}

// Dismiss clears an active warning without extending the session.
func (m *Monitor) Dismiss() {
	select {
	case m.dismiss <- struct{}{}:
	default:
	}
}

// Extend refreshes the session. A rejected refresh token forces logout;
// other failures are returned and leave the session in place.
func (m *Monitor) Extend(ctx context.Context) error {
	req := extendRequest{ctx: ctx, reply: make(chan error, 1)}
	select {
	case m.extend <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrMonitorStopped
	}
	return <-req.reply
}

// TimeUntilExpiry reports the time left on the stored session, or zero when
// there is none.
func (m *Monitor) TimeUntilExpiry() time.Duration {
	current, ok := m.store.Get()
	if !ok {
		return 0
	}
	if remaining := current.ExpiresAt.Sub(m.now()); remaining > 0 {
		return remaining
	}
	return 0
}

func (m *Monitor) evaluate() {
	current, ok := m.store.Get()
	if !ok {
		m.clearWarning()
		return
	}

	now := m.now()
	switch CheckExpiry(now, current.ExpiresAt, m.threshold) {
	case Expired:
		m.forceLogout(ReasonExpired)
	case Warning:
		if m.warnedFor.Equal(current.ExpiresAt) {
			return
		}
		m.warnedFor = current.ExpiresAt
		m.warningActive = true
		m.graceC, m.stopGrace = m.newTimer(m.grace)
		remaining := current.ExpiresAt.Sub(now)
		m.logger.Info("session expiring soon", "remaining", remaining)
		m.emit(Event{Kind: EventWarning, ExpiresAt: current.ExpiresAt, Remaining: remaining})
	case Active:
		m.clearWarning()
	}
}

func (m *Monitor) handleExtend(ctx context.Context) error {
	current, ok := m.store.Get()
	if !ok {
		return application.ErrSessionExpired
	}
	if m.refresher == nil {
		return errors.New("session: no refresher configured")
	}

	next, err := m.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if errors.Is(err, application.ErrSessionExpired) {
			m.forceLogout(ReasonRefreshFailed)
			return err
		}
		m.logger.Warn("session extension failed", "error", err, "error_kind", application.ErrorKind(err))
		return err
	}

	m.store.Replace(next)
	m.clearWarning()
	updated, _ := m.store.Get()
	m.emit(Event{Kind: EventExtended, ExpiresAt: updated.ExpiresAt, Remaining: updated.ExpiresAt.Sub(m.now())})
	m.evaluate()
	return nil
}

func (m *Monitor) forceLogout(reason LogoutReason) {
	m.store.Clear()
	m.clearWarning()
	m.warnedFor = time.Time{}
	m.logger.Info("session ended", "reason", reason)
	if m.observer != nil {
		m.observer.ObserveTermination(string(reason))
	}
	if m.onLogout != nil {
		m.onLogout(reason)
	}
	m.emit(Event{Kind: EventLoggedOut, Reason: reason})
}

func (m *Monitor) clearWarning() {
	if m.stopGrace != nil {
		m.stopGrace()
	}
	m.graceC = nil
	m.stopGrace = nil
	m.warningActive = false
}

func (m *Monitor) emit(event Event) {
	select {
	case m.events <- event:
	default:
		m.logger.Warn("session event dropped", "kind", event.Kind.String())
	}
}
