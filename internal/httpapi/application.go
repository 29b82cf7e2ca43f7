// Package httpapi exposes the gateway's HTTP surface: proxied AI
// endpoints, model lifecycle and profile management, health
// aggregation, and the terminal feed SSE stream.
package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/internal/config"
	"gatewayd/internal/dispatch"
	"gatewayd/internal/feed"
	"gatewayd/internal/manager"
	"gatewayd/internal/profile"
	"gatewayd/internal/voices"
)

// Application carries every component the handlers need. Constructed
// once in cmd and passed explicitly; no package-level singletons.
type Application struct {
	Cfg      config.Config
	Client   *dispatch.Client
	Manager  *manager.Manager
	Profiles *profile.Store
	Feed     *feed.Feed
	Voices   *voices.Manager
	Log      zerolog.Logger
	Started  time.Time

	// BaseCtx is canceled on shutdown so long-lived streams end with
	// the server.
	BaseCtx context.Context
}

func (app *Application) baseCtx() context.Context {
	if app.BaseCtx == nil {
		return context.Background()
	}
	return app.BaseCtx
}
