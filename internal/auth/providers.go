package auth

import (
	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
)

// SessionOptions configures the cookie store shared by gothic and the
// middleware.
type SessionOptions struct {
	Secret string
	MaxAge int
	Secure bool
}

// NewCookieStore builds the session store and installs it for gothic.
func NewCookieStore(opts SessionOptions) *sessions.CookieStore {
	if opts.MaxAge == 0 {
		opts.MaxAge = 86400 * 30
	}
	store := sessions.NewCookieStore([]byte(opts.Secret))
	store.MaxAge(opts.MaxAge)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = opts.Secure
	gothic.Store = store
	return store
}

// UseGoogle registers the Google OAuth provider. Nothing is registered when
// key is empty.
func UseGoogle(key, secret, callbackURL string) bool {
	if key == "" {
		return false
	}
	goth.UseProviders(google.New(key, secret, callbackURL))
	return true
}
