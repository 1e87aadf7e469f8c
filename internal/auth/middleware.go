// Package auth identifies the requesting user from an OAuth session cookie
// or a Bearer JWT.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"github.com/petermazzocco/go-image-tiers/internal/response"
)

// SessionName is the cookie holding the logged-in user's ID. It is kept
// apart from gothic's own session, which gothic clears after each callback.
const SessionName = "user_session"

const sessionUserKey = "user_id"

type contextKey string

const userIDKey contextKey = "userID"

// WithUserID returns a copy of ctx carrying the authenticated user's ID.
func WithUserID(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the authenticated user's ID stored by the middleware.
func UserID(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(userIDKey).(uint)
	return id, ok && id != 0
}

// Authenticator issues and checks credentials.
type Authenticator struct {
	store     sessions.Store
	jwtSecret []byte
	tokenTTL  time.Duration
}

// New creates an Authenticator. Sessions are read from store; bearer tokens
// are HS256 JWTs signed with jwtSecret.
func New(store sessions.Store, jwtSecret string) *Authenticator {
	return &Authenticator{store: store, jwtSecret: []byte(jwtSecret), tokenTTL: 30 * 24 * time.Hour}
}

// IssueToken signs a bearer token for userID.
func (a *Authenticator) IssueToken(userID uint) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *Authenticator) parseToken(raw string) (uint, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid or expired token")
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid token subject")
	}
	return uint(id), nil
}

// Login stores userID in the session cookie.
func (a *Authenticator) Login(w http.ResponseWriter, r *http.Request, userID uint) error {
	session, err := a.store.Get(r, SessionName)
	if err != nil && session == nil {
		return fmt.Errorf("get session: %w", err)
	}
	session.Values[sessionUserKey] = userID
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Logout clears the session cookie.
func (a *Authenticator) Logout(w http.ResponseWriter, r *http.Request) error {
	session, err := a.store.Get(r, SessionName)
	if err != nil && session == nil {
		return fmt.Errorf("get session: %w", err)
	}
	delete(session.Values, sessionUserKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Middleware rejects requests without a valid bearer token or session and
// stores the user's ID in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Error(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			id, err := a.parseToken(parts[1])
			if err != nil {
				response.Error(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
			return
		}

		session, err := a.store.Get(r, SessionName)
		if err != nil || session == nil {
			response.Error(w, http.StatusUnauthorized, "Not Authorized")
			return
		}
		id, ok := session.Values[sessionUserKey].(uint)
		if !ok || id == 0 {
			response.Error(w, http.StatusUnauthorized, "Not Authorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}
