// Package auth manages users and session tokens. Passwords are stored
// as bcrypt hashes; tokens are opaque xid strings with a fixed TTL and
// at most one live token per user.
package auth

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/crypto/bcrypt"

	"skoll/internal/common"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 12 * time.Hour

type token struct {
	value    string
	user     string
	issuedAt time.Time
}

type Service struct {
	mu     sync.Mutex
	users  map[string][]byte // username -> bcrypt hash
	tokens map[string]token  // token value -> token
	live   map[string]string // username -> live token value
	ttl    time.Duration
	now    func() time.Time
}

func NewService() *Service {
	return &Service{
		users:  make(map[string][]byte),
		tokens: make(map[string]token),
		live:   make(map[string]string),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

// Register creates a user. Duplicate usernames are rejected.
func (s *Service) Register(user, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user]; ok {
		return common.ErrUserExists
	}
	s.users[user] = hash
	return nil
}

// Login checks the credentials and returns the user's token. A user
// holds at most one live token: logging in again before expiry hands
// back the same token, logging in after expiry replaces it.
func (s *Service) Login(user, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.users[user]
	if !ok {
		return "", common.ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", common.ErrBadCredentials
	}

	if value, ok := s.live[user]; ok {
		tok := s.tokens[value]
		if s.now().Sub(tok.issuedAt) < s.ttl {
			return value, nil
		}
		s.expire(tok)
	}

	tok := token{value: xid.New().String(), user: user, issuedAt: s.now()}
	s.tokens[tok.value] = tok
	s.live[user] = tok.value
	return tok.value, nil
}

// Verify resolves a token to its user. Expired tokens are dropped on
// first sight.
func (s *Service) Verify(value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[value]
	if !ok {
		return "", common.ErrBadCredentials
	}
	if s.now().Sub(tok.issuedAt) >= s.ttl {
		s.expire(tok)
		return "", common.ErrTokenExpired
	}
	return tok.user, nil
}

// Revoke invalidates a token. Revoking an unknown or already revoked
// token is a no-op.
func (s *Service) Revoke(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.tokens[value]; ok {
		s.expire(tok)
	}
}

// expire drops a token from both indexes. Caller holds the lock.
func (s *Service) expire(tok token) {
	delete(s.tokens, tok.value)
	if s.live[tok.user] == tok.value {
		delete(s.live, tok.user)
	}
}
