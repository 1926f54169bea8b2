package browser

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	flerrors "github.com/flowlens/flowlens/pkg/errors"
	"github.com/flowlens/flowlens/pkg/logging"
)

// PoolConfig configures the session pool.
type PoolConfig struct {
	MinSessions     int           `yaml:"min_sessions"`
	MaxSessions     int           `yaml:"max_sessions"`
	SessionLifetime time.Duration `yaml:"session_lifetime"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	CreateRetries   uint64        `yaml:"create_retries"`
	ReapInterval    time.Duration `yaml:"reap_interval"`
	SessionOptions  SessionOptions
}

// DefaultPoolConfig returns the recommended pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSessions:     1,
		MaxSessions:     5,
		SessionLifetime: 30 * time.Minute,
		IdleTimeout:     5 * time.Minute,
		AcquireTimeout:  60 * time.Second,
		CreateRetries:   3,
		ReapInterval:    30 * time.Second,
		SessionOptions:  DefaultSessionOptions(),
	}
}

// SessionPool owns a bounded collection of remote browser sessions and hands
// them out safely to concurrent callers. All pool state is guarded by one
// mutex; callers never observe or mutate pool membership directly.
type SessionPool struct {
	cfg      PoolConfig
	provider Provider
	logger   *logging.Logger

	mu       sync.Mutex
	idle     []*Session
	leased   map[string]*Session
	creating int
	closed   bool

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSessionPool creates the pool, warms it to MinSessions in the background,
// and starts the idle reaper.
func NewSessionPool(cfg PoolConfig, provider Provider, logger *logging.Logger) (*SessionPool, error) {
	if cfg.MaxSessions <= 0 {
		return nil, flerrors.New(flerrors.ErrCodeConfigInvalid, "max_sessions must be positive")
	}
	if cfg.MinSessions > cfg.MaxSessions {
		return nil, flerrors.New(flerrors.ErrCodeConfigInvalid, "min_sessions must not exceed max_sessions").
			WithContext("min", cfg.MinSessions).
			WithContext("max", cfg.MaxSessions)
	}
	if provider == nil {
		return nil, flerrors.New(flerrors.ErrCodeConfigInvalid, "session provider is required")
	}

	p := &SessionPool{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		leased:   make(map[string]*Session),
		notify:   make(chan struct{}, cfg.MaxSessions),
		stop:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.warm()

	if cfg.ReapInterval > 0 {
		p.wg.Add(1)
		go p.reapLoop()
	}

	return p, nil
}

// Acquire returns a ready session, creating one if the pool is below capacity,
// or blocking until one is released. It fails with a POOL_EXHAUSTED error when
// the bounded wait elapses with no session available.
func (p *SessionPool) Acquire(ctx context.Context) (*Session, error) {
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	start := time.Now()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, flerrors.New(flerrors.ErrCodePoolClosed, "session pool is shut down")
		}

		if sess := p.popIdleLocked(); sess != nil {
			sess.Status = SessionInUse
			p.leased[sess.ID] = sess
			p.mu.Unlock()
			metricAcquireWait.Observe(time.Since(start).Seconds())
			p.updateGauges()
			p.logEvent(logging.LevelDebug, "session_leased", sess.ID, nil)
			return sess, nil
		}

		if p.totalLocked() < p.cfg.MaxSessions {
			p.creating++
			p.mu.Unlock()

			sess, err := p.createWithRetry(ctx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				closed := p.closed
				p.mu.Unlock()
				p.signal() // a waiter may now use the freed capacity slot
				if closed {
					return nil, flerrors.New(flerrors.ErrCodePoolClosed, "session pool is shut down")
				}
				metricPoolExhausted.Inc()
				return nil, flerrors.Wrap(err, flerrors.ErrCodePoolExhausted, "session creation failed").
					WithRetryable(true)
			}
			if p.closed {
				p.mu.Unlock()
				p.terminate(sess)
				return nil, flerrors.New(flerrors.ErrCodePoolClosed, "session pool is shut down")
			}
			sess.Status = SessionInUse
			p.leased[sess.ID] = sess
			p.mu.Unlock()
			metricSessionsCreated.Inc()
			metricAcquireWait.Observe(time.Since(start).Seconds())
			p.updateGauges()
			p.logEvent(logging.LevelInfo, "session_created", sess.ID, map[string]any{
				"expires_at": sess.ExpiresAt,
			})
			return sess, nil
		}

		p.mu.Unlock()

		select {
		case <-p.notify:
			// re-check the idle set
		case <-ctx.Done():
			metricPoolExhausted.Inc()
			return nil, flerrors.Wrap(ctx.Err(), flerrors.ErrCodePoolExhausted, "no session available within acquire timeout").
				WithContext("waited", time.Since(start).Round(time.Millisecond).String()).
				WithRetryable(true)
		}
	}
}

// Release returns a leased session to the idle set, or terminates it when it
// has outlived its lifetime. Releasing an unknown or already-released id is a
// harmless no-op error.
func (p *SessionPool) Release(sessionID string) error {
	p.mu.Lock()
	sess, ok := p.leased[sessionID]
	if !ok {
		p.mu.Unlock()
		p.logEvent(logging.LevelWarn, "release_unknown_session", sessionID, nil)
		return flerrors.New(flerrors.ErrCodeInvalidInput, "release of unknown or already-released session").
			WithContext("session_id", sessionID)
	}
	delete(p.leased, sessionID)

	if p.closed {
		p.mu.Unlock()
		p.terminate(sess)
		return nil
	}

	now := time.Now()
	if p.expired(sess, now) {
		replace := p.totalLocked() < p.cfg.MinSessions
		p.mu.Unlock()
		p.terminate(sess)
		p.signal() // capacity freed
		if replace {
			p.wg.Add(1)
			go p.replenishOne()
		}
		p.updateGauges()
		return nil
	}

	sess.Status = SessionReady
	sess.lastIdle = now
	p.idle = append(p.idle, sess)
	p.mu.Unlock()
	p.signal()
	p.updateGauges()
	p.logEvent(logging.LevelDebug, "session_released", sessionID, nil)
	return nil
}

// GetStats returns a non-blocking snapshot of pool occupancy.
func (p *SessionPool) GetStats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Idle:   len(p.idle),
		Active: len(p.leased),
		Total:  len(p.idle) + len(p.leased) + p.creating,
	}
}

// Shutdown terminates all sessions, refuses further Acquires, and waits for
// background work to settle.
func (p *SessionPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)

	sessions := make([]*Session, 0, len(p.idle)+len(p.leased))
	sessions = append(sessions, p.idle...)
	for _, sess := range p.leased {
		sessions = append(sessions, sess)
	}
	p.idle = nil
	p.leased = make(map[string]*Session)
	// Wake every waiter so blocked Acquires observe the closed pool. Closing
	// under the mutex serializes against signal(), which also holds it.
	close(p.notify)
	p.mu.Unlock()

	for _, sess := range sessions {
		p.terminate(sess)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.updateGauges()
	p.logEvent(logging.LevelInfo, "pool_shutdown", "", map[string]any{
		"terminated": len(sessions),
	})
	return nil
}

// popIdleLocked removes and returns the most recently idled unexpired session,
// terminating any expired ones it encounters. Caller holds p.mu.
func (p *SessionPool) popIdleLocked() *Session {
	now := time.Now()
	for len(p.idle) > 0 {
		sess := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.expired(sess, now) {
			go p.terminate(sess)
			continue
		}
		return sess
	}
	return nil
}

func (p *SessionPool) totalLocked() int {
	return len(p.idle) + len(p.leased) + p.creating
}

func (p *SessionPool) expired(sess *Session, now time.Time) bool {
	if !sess.ExpiresAt.IsZero() && now.After(sess.ExpiresAt) {
		return true
	}
	return p.cfg.SessionLifetime > 0 && now.Sub(sess.CreatedAt) > p.cfg.SessionLifetime
}

// signal wakes at most one Acquire waiter. Dropped signals are fine: waiters
// re-check pool state on every wakeup.
func (p *SessionPool) signal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// createWithRetry calls the provider with exponential backoff up to the
// configured retry budget. Creation failures are transient I/O, not fatal.
func (p *SessionPool) createWithRetry(ctx context.Context) (*Session, error) {
	opts := p.cfg.SessionOptions
	if opts.Lifetime == 0 {
		opts.Lifetime = p.cfg.SessionLifetime
	}

	var remote *RemoteSession
	operation := func() error {
		var err error
		remote, err = p.provider.CreateSession(ctx, opts)
		if err != nil {
			p.logEvent(logging.LevelWarn, "session_create_failed", "", map[string]any{
				"error": err.Error(),
			})
			return err
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.CreateRetries),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:              remote.ID,
		Status:          SessionReady,
		ConnectEndpoint: remote.ConnectEndpoint,
		CreatedAt:       now,
		ExpiresAt:       remote.ExpiresAt,
		lastIdle:        now,
	}
	if sess.ExpiresAt.IsZero() && p.cfg.SessionLifetime > 0 {
		sess.ExpiresAt = now.Add(p.cfg.SessionLifetime)
	}
	return sess, nil
}

// terminate tears down a session at the provider. Termination failures are
// logged, not propagated: the session is gone from pool state either way.
func (p *SessionPool) terminate(sess *Session) {
	sess.Status = SessionTerminating
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	result, err := p.provider.TerminateSession(ctx, sess.ID)
	sess.Status = SessionTerminated
	metricSessionsTerminated.Inc()
	if err != nil {
		p.logEvent(logging.LevelWarn, "session_terminate_failed", sess.ID, map[string]any{
			"error": err.Error(),
		})
		return
	}
	details := map[string]any{}
	if result != nil && result.RecordingURL != "" {
		details["recording_url"] = result.RecordingURL
	}
	p.logEvent(logging.LevelDebug, "session_terminated", sess.ID, details)
}

// warm pre-creates sessions up to MinSessions at startup.
func (p *SessionPool) warm() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if p.closed || p.totalLocked() >= p.cfg.MinSessions {
			p.mu.Unlock()
			return
		}
		p.creating++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		sess, err := p.createWithRetry(ctx)
		cancel()

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			// Warm-up failures are not fatal; Acquire will retry on demand.
			p.logEvent(logging.LevelWarn, "warmup_failed", "", map[string]any{
				"error": err.Error(),
			})
			return
		}
		if p.closed {
			p.mu.Unlock()
			p.terminate(sess)
			return
		}
		p.idle = append(p.idle, sess)
		p.mu.Unlock()
		metricSessionsCreated.Inc()
		p.signal()
		p.updateGauges()
	}
}

// replenishOne creates a single replacement session toward MinSessions.
func (p *SessionPool) replenishOne() {
	defer p.wg.Done()
	p.mu.Lock()
	if p.closed || p.totalLocked() >= p.cfg.MinSessions {
		p.mu.Unlock()
		return
	}
	p.creating++
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	sess, err := p.createWithRetry(ctx)
	cancel()

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		p.logEvent(logging.LevelWarn, "replenish_failed", "", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if p.closed {
		p.mu.Unlock()
		p.terminate(sess)
		return
	}
	p.idle = append(p.idle, sess)
	p.mu.Unlock()
	metricSessionsCreated.Inc()
	p.signal()
	p.updateGauges()
}

// reapLoop periodically terminates idle sessions that exceeded their idle
// timeout or lifetime, then replaces down to MinSessions.
func (p *SessionPool) reapLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reapOnce(time.Now())
		}
	}
}

func (p *SessionPool) reapOnce(now time.Time) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var kept []*Session
	var reap []*Session
	for _, sess := range p.idle {
		idleTooLong := p.cfg.IdleTimeout > 0 && now.Sub(sess.lastIdle) > p.cfg.IdleTimeout
		if idleTooLong || p.expired(sess, now) {
			reap = append(reap, sess)
		} else {
			kept = append(kept, sess)
		}
	}
	p.idle = kept
	deficit := p.cfg.MinSessions - p.totalLocked()
	p.mu.Unlock()

	for _, sess := range reap {
		p.terminate(sess)
		p.signal()
	}
	for i := 0; i < deficit; i++ {
		p.wg.Add(1)
		go p.replenishOne()
	}
	if len(reap) > 0 {
		p.updateGauges()
		p.logEvent(logging.LevelDebug, "idle_sessions_reaped", "", map[string]any{
			"reaped": len(reap),
		})
	}
}

func (p *SessionPool) updateGauges() {
	stats := p.GetStats()
	metricSessionsIdle.Set(float64(stats.Idle))
	metricSessionsActive.Set(float64(stats.Active))
}

func (p *SessionPool) logEvent(level logging.Level, eventType, sessionID string, details map[string]any) {
	if p.logger == nil {
		return
	}
	_ = p.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryPool,
		EventType: eventType,
		SessionID: sessionID,
		Details:   details,
	})
}
