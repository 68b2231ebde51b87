package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"fraudgate/internal/config"
)

// User is the authenticated principal behind a request.
type User struct {
	ID    string
	Email string
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Resolver turns an incoming request into a user, or nil when the request
// carries no usable identity. The demo bypass is explicit configuration,
// never ambient environment state.
type Resolver struct {
	cfg    config.AuthConfig
	logger zerolog.Logger
}

// NewResolver constructs a request authenticator.
func NewResolver(cfg config.AuthConfig, logger zerolog.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// Resolve returns the user for a request. Order: bearer token first, then
// the demo bypass when enabled, then nil.
func (r *Resolver) Resolve(req *http.Request) *User {
	if token := bearerToken(req); token != "" && r.cfg.JWTSecret != "" {
		user, err := r.verify(token)
		if err == nil {
			return user
		}
		r.logger.Debug().Err(err).Msg("bearer token rejected")
	}

	if r.cfg.DummyEnabled {
		return &User{ID: r.cfg.DummyUserID, Email: r.cfg.DummyEmail}
	}

	return nil
}

func (r *Resolver) verify(tokenString string) (*User, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || c.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return &User{ID: c.Subject, Email: c.Email}, nil
}

func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
