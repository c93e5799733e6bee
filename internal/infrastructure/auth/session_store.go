package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"skillhub/internal/core/domain"
	apperrors "skillhub/pkg/errors"
	"skillhub/pkg/utils"
	"skillhub/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims are the fields the API puts in its access tokens.
type Claims struct {
	UserID string `json:"id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// StoredSession is the login state written by the web client.
type StoredSession struct {
	Token     string      `json:"token"`
	User      domain.User `json:"user"`
	ExpiresAt time.Time   `json:"-"`
}

// SessionStore reads the stored session. It never writes it.
type SessionStore struct {
	path   string
	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewSessionStore(path string, logger *zap.SugaredLogger) *SessionStore {
	return &SessionStore{path: path, now: time.Now, logger: logger}
}

// Load returns the current user and token. A missing or empty session is
// reported as domain.ErrNotLoggedIn, an expired token as domain.ErrSessionExpired.
func (s *SessionStore) Load() (*StoredSession, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, unauthorized(domain.ErrNotLoggedIn)
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var session StoredSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", s.path, err)
	}
	if session.Token == "" {
		return nil, unauthorized(domain.ErrNotLoggedIn)
	}

	if claims, ok := s.parseClaims(session.Token); ok {
		if claims.ExpiresAt != nil {
			session.ExpiresAt = claims.ExpiresAt.Time
			if !session.ExpiresAt.After(s.now()) {
				return nil, unauthorized(domain.ErrSessionExpired)
			}
		}
		if session.User.ID == "" {
			id := claims.UserID
			if id == "" {
				id = claims.Subject
			}
			session.User.ID = domain.UserID(id)
		}
		if session.User.Name == "" {
			session.User.Name = claims.Name
		}
	}

	if session.User.ID == "" {
		return nil, unauthorized(domain.ErrNotLoggedIn)
	}
	if err := validation.ValidateUserID(string(session.User.ID)); err != nil {
		return nil, fmt.Errorf("stored session: %w", err)
	}
	return &session, nil
}

// parseClaims decodes the token without verifying it. The signing key lives
// on the API server; the client only needs the expiry and identity.
func (s *SessionStore) parseClaims(token string) (*Claims, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		s.logger.Debugw("stored token is not a JWT", "token", utils.MaskSensitive(token, 6), "error", err)
		return nil, false
	}
	return claims, true
}

func unauthorized(err error) error {
	return apperrors.NewUnauthorizedError(err.Error(), err)
}
