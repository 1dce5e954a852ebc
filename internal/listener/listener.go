// Package listener implements the Listener: binds the device TCP
// port, enforces MAX_CONCURRENT_SESSIONS, and spawns a Session per
// accepted socket. Grounded on cmd/tcp-server's main loop (Listen,
// Accept-loop, one goroutine per connection), generalized to carry a
// cap check and context-based graceful shutdown instead of a bare
// for-loop with no backpressure.
package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/telematics/avl-gateway/internal/registry"
	"github.com/telematics/avl-gateway/internal/repository"
	"github.com/telematics/avl-gateway/internal/session"
)

// Listener owns the device-facing TCP socket.
type Listener struct {
	port               int
	maxSessions        int
	sessionCfg         session.Config
	reg                *registry.Registry
	repo               repository.Port
	log                *logrus.Entry

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

// New builds a Listener bound to port. Call Run to start accepting.
func New(port, maxSessions int, sessionCfg session.Config, reg *registry.Registry, repo repository.Port, log *logrus.Logger) *Listener {
	if log == nil {
		log = logrus.New()
	}
	return &Listener{
		port:        port,
		maxSessions: maxSessions,
		sessionCfg:  sessionCfg,
		reg:         reg,
		repo:        repo,
		log:         log.WithField("component", "listener"),
		sessions:    make(map[*session.Session]struct{}),
	}
}

// Run binds the port and accepts connections until ctx is canceled.
// Shutdown is orderly: stop accepting, signal every live session to
// close, await up to 3 s, then return.
func (l *Listener) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return fmt.Errorf("listener: bind port %d: %w", l.port, err)
	}

	l.log.Infof("accepting device connections on port %d", l.port)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		l.log.Info("context done, closing listener")
		_ = ln.Close()
		close(done)
	}()

	var wg sync.WaitGroup

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				l.shutdownSessions(&wg)
				return nil
			default:
				l.log.WithError(err).Warn("accept error")
				continue
			}
		}

		if l.sessionCount() >= l.maxSessions {
			l.log.Warn("max concurrent sessions reached, rejecting connection")
			conn.Close()
			continue
		}

		sess := session.New(conn, l.sessionCfg, l.reg, l.repo, nil)
		l.track(sess)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.untrack(sess)
			if err := sess.Run(ctx); err != nil {
				l.log.WithError(err).Debug("session ended")
			}
		}()
	}
}

func (l *Listener) track(s *session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[s] = struct{}{}
}

func (l *Listener) untrack(s *session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, s)
}

// sessionCount reports the number of live tracked sessions, including
// ones still awaiting IMEI authentication — MAX_CONCURRENT_SESSIONS
// bounds accepted sockets, not just authenticated devices.
func (l *Listener) sessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// shutdownSessions closes every still-tracked session's socket so its
// read loop unblocks immediately instead of waiting out its idle
// timeout, then waits up to 3 s for the session goroutines to finish.
func (l *Listener) shutdownSessions(wg *sync.WaitGroup) {
	l.mu.Lock()
	live := make([]*session.Session, 0, len(l.sessions))
	for s := range l.sessions {
		live = append(live, s)
	}
	l.mu.Unlock()

	for _, s := range live {
		s.Close()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		l.log.Warn("sessions still tearing down after 3 s, returning anyway")
	}
}
