// Package net is the venue's TCP boundary: it accepts connections,
// mints a stable session identity per connection, reads
// newline-delimited commands and delivers fill reports back to the
// owning sessions.
package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"skoll/internal/auth"
	"skoll/internal/common"
	"skoll/internal/floor"
)

const (
	maxLineBytes        = 4 * 1024
	defaultNWorkers     = 64
	defaultWriteTimeout = 2 * time.Second

	// busyLine is the one response a client gets when every session
	// worker is occupied; the connection is closed right after.
	busyLine = "error: server busy"
)

var (
	ErrImproperConversion  = errors.New("improper type conversion")
	ErrSessionDoesNotExist = errors.New("session does not exist")
)

// session is one connected client. Its identity is minted at accept
// time and never reused, unlike a socket descriptor.
type session struct {
	id      common.SessionID
	conn    net.Conn
	writeMu sync.Mutex

	// authMu guards user and token: the session's pool worker writes
	// them on login/logout while the notify-failure and shutdown paths
	// read the token when dropping the session.
	authMu sync.Mutex
	user   string
	token  string
}

// setAuth binds a logged-in user to the session.
func (s *session) setAuth(user, token string) {
	s.authMu.Lock()
	s.user = user
	s.token = token
	s.authMu.Unlock()
}

// clearAuth unbinds the session's user and hands back the token that
// was live, if any, so the caller can revoke it.
func (s *session) clearAuth() (token string) {
	s.authMu.Lock()
	token = s.token
	s.user = ""
	s.token = ""
	s.authMu.Unlock()
	return token
}

// auth reads the session's current user and token.
func (s *session) auth() (user, token string) {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.user, s.token
}

// writeLine sends one response or report line with a short deadline so
// a stalled client cannot block the caller indefinitely.
func (s *session) writeLine(line string, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}

type Server struct {
	address      string
	port         int
	floor        *floor.Floor
	auth         *auth.Service
	pool         WorkerPool
	writeTimeout time.Duration

	mu       sync.Mutex
	sessions map[common.SessionID]*session
	bound    net.Addr
}

func New(address string, port int, fl *floor.Floor, authSvc *auth.Service) *Server {
	return &Server{
		address:      address,
		port:         port,
		floor:        fl,
		auth:         authSvc,
		pool:         NewWorkerPool(defaultNWorkers),
		writeTimeout: defaultWriteTimeout,
		sessions:     make(map[common.SessionID]*session),
	}
}

// Addr reports the listener's bound address once Run has it, nil
// before that.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Run serves until the context is cancelled, then closes the listener
// and every session and joins all workers.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.mu.Lock()
	s.bound = listener.Addr()
	s.mu.Unlock()

	// Unblock Accept and all session reads once shutdown begins.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeAllSessions()
		return nil
	})

	s.pool.Run(t, s.serveSession)

	log.Info().Str("address", listener.Addr().String()).Msg("server running")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !t.Alive() {
				break
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		sess := s.addSession(conn)
		log.Info().
			Str("session", string(sess.id)).
			Str("remote", conn.RemoteAddr().String()).
			Msg("new client connected")

		if !s.pool.Add(sess) {
			log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("no session worker free, rejecting client")
			if err := sess.writeLine(busyLine, s.writeTimeout); err != nil {
				log.Debug().Err(err).Str("session", string(sess.id)).Msg("error writing busy line")
			}
			s.dropSession(sess)
		}
	}

	t.Kill(nil)
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Notify implements floor.Notifier: it hands a fill line to the owning
// session. A failed send drops the session; the fill itself stays
// final.
func (s *Server) Notify(id common.SessionID, fill common.Fill) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return ErrSessionDoesNotExist
	}

	if err := sess.writeLine(fill.String(), s.writeTimeout); err != nil {
		s.dropSession(sess)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// serveSession is a pool worker method owning one session: it reads
// command lines until the connection or the server goes away. Only a
// broken task type is fatal to the pool.
func (s *Server) serveSession(t *tomb.Tomb, task any) error {
	sess, ok := task.(*session)
	if !ok {
		return ErrImproperConversion
	}
	defer s.dropSession(sess)

	scanner := bufio.NewScanner(sess.conn)
	scanner.Buffer(make([]byte, maxLineBytes), maxLineBytes)
	for scanner.Scan() {
		if !t.Alive() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reply := s.handle(sess, line)
		if err := sess.writeLine(reply, s.writeTimeout); err != nil {
			log.Error().Err(err).Str("session", string(sess.id)).Msg("error writing to connection")
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Str("session", string(sess.id)).Msg("connection closed")
	}
	return nil
}

// addSession is an atomic map add minting the session's identity.
func (s *Server) addSession(conn net.Conn) *session {
	sess := &session{
		id:   common.SessionID(xid.New().String()),
		conn: conn,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// dropSession removes the session, revokes any live token and closes
// the connection. Safe to call more than once.
func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	_, present := s.sessions[sess.id]
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	if !present {
		return
	}

	if token := sess.clearAuth(); token != "" {
		s.auth.Revoke(token)
	}
	if err := sess.conn.Close(); err != nil {
		log.Debug().Err(err).Str("session", string(sess.id)).Msg("error closing connection")
	}
	log.Info().Str("session", string(sess.id)).Msg("client disconnected")
}

func (s *Server) closeAllSessions() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		s.dropSession(sess)
	}
}
