package auth

import (
	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"

	"bizmatch/internal/config"
)

// InitGothProviders registers the configured OAuth providers with goth and
// returns their names. Nothing is registered when no client id is set.
func InitGothProviders(cfg config.OAuth, sessionSecret string, secure bool) []string {
	store := sessions.NewCookieStore([]byte(sessionSecret))
	store.MaxAge(600)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = secure
	gothic.Store = store

	var providers []goth.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, google.New(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL, "email", "profile"))
	}
	goth.UseProviders(providers...)

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	return names
}
