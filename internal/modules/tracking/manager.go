// README: Manager owns the per-driver tracker sessions behind the HTTP and websocket endpoints.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"ridecore/internal/geo"
	"ridecore/internal/types"
)

type session struct {
	tracker *Tracker
	feed    *Feed
}

// driverLock serializes online/offline changes for one driver. refs counts
// holders and waiters so the entry can be dropped once unused.
type driverLock struct {
	mu   sync.Mutex
	refs int
}

type Manager struct {
	dir    Directory
	cfg    Config
	buffer int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[types.ID]*session
	locks    map[types.ID]*driverLock
}

// NewManager creates a manager whose trackers outlive the request that
// started them; StopAll ends every session.
func NewManager(dir Directory, cfg Config, buffer int) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dir:      dir,
		cfg:      cfg,
		buffer:   buffer,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[types.ID]*session),
		locks:    make(map[types.ID]*driverLock),
	}
}

// GoOnline marks the driver online and starts its tracker if none is running.
// The directory write and session start happen under the driver's lock, so a
// concurrent GoOffline either runs first or sees the session.
func (m *Manager) GoOnline(ctx context.Context, driverID types.ID) error {
	if driverID == "" {
		return fmt.Errorf("%w: missing driver id", types.ErrInvalidInput)
	}
	unlock := m.lockDriver(driverID)
	defer unlock()

	if _, err := m.ensureSession(driverID); err != nil {
		return err
	}
	return m.dir.SetOnline(ctx, driverID, true)
}

// Report pushes a fix into the driver's tracker, starting one on first use.
func (m *Manager) Report(driverID types.ID, fix Fix) error {
	if err := geo.Validate(fix.Position); err != nil {
		return err
	}
	if fix.At.IsZero() {
		return fmt.Errorf("%w: fix timestamp required", types.ErrInvalidInput)
	}
	if driverID == "" {
		return fmt.Errorf("%w: missing driver id", types.ErrInvalidInput)
	}
	unlock := m.lockDriver(driverID)
	s, err := m.ensureSession(driverID)
	unlock()
	if err != nil {
		return err
	}
	dropped, err := s.feed.Push(fix)
	if errors.Is(err, ErrFeedClosed) {
		// session went offline between lookup and push
		return fmt.Errorf("%w: driver %s went offline", types.ErrInvalidTransition, driverID)
	}
	if dropped {
		log.Printf("[tracking] driver %s: feed full, dropped oldest fix", driverID)
	}
	return err
}

// GoOffline stops the driver's tracker, which marks the driver offline. A
// driver without a session is marked offline directly.
func (m *Manager) GoOffline(ctx context.Context, driverID types.ID) error {
	unlock := m.lockDriver(driverID)
	defer unlock()

	m.mu.Lock()
	s, ok := m.sessions[driverID]
	delete(m.sessions, driverID)
	m.mu.Unlock()

	if !ok {
		return m.dir.SetOnline(ctx, driverID, false)
	}
	return m.stopSession(s)
}

func (m *Manager) Active(driverID types.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[driverID]
	return ok
}

// StopAll ends every session, marking each driver offline.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[types.ID]*session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, s := range sessions {
		wg.Add(1)
		go func(id types.ID, s *session) {
			defer wg.Done()
			unlock := m.lockDriver(id)
			defer unlock()
			if err := m.stopSession(s); err != nil {
				log.Printf("[tracking] stop driver %s: %v", id, err)
			}
		}(id, s)
	}
	wg.Wait()
	m.cancel()
}

func (m *Manager) ensureSession(driverID types.ID) (*session, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: missing driver id", types.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[driverID]; ok {
		return s, nil
	}

	feed := NewFeed(m.buffer)
	tr := NewTracker(driverID, feed, m.dir, m.cfg)
	if err := tr.Start(m.ctx); err != nil {
		return nil, err
	}
	s := &session{tracker: tr, feed: feed}
	m.sessions[driverID] = s
	return s, nil
}

func (m *Manager) lockDriver(driverID types.ID) func() {
	m.mu.Lock()
	l, ok := m.locks[driverID]
	if !ok {
		l = &driverLock{}
		m.locks[driverID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, driverID)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) stopSession(s *session) error {
	s.feed.Close()
	return s.tracker.Stop()
}
