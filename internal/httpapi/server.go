package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxJSONBody caps JSON request bodies; media uploads get a larger cap
// in their handlers.
const maxJSONBody = 4 << 20

// NewMux builds the gateway router.
func NewMux(app *Application) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if len(app.Cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: app.Cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", app.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/v1/chat/completions", app.handleChatCompletions)
	r.Post("/v1/embeddings", app.handleEmbeddings)

	r.Route("/models", func(r chi.Router) {
		r.Get("/", app.handleListModels)
		r.Post("/load", app.handleLoadModel)
		r.Post("/unload", app.handleUnloadModel)
		r.Get("/{model}/schema", app.handleModelSchema)
		r.Get("/{model}/profile", app.handleGetProfile)
		r.Put("/{model}/profile", app.handlePutProfile)
		r.Post("/{model}/profile/apply", app.handleApplyProfile)
	})

	r.Route("/voices", func(r chi.Router) {
		r.Get("/", app.handleListVoices)
		r.Post("/", app.handleCreateVoice)
		r.Get("/{id}", app.handleGetVoice)
		r.Delete("/{id}", app.handleDeleteVoice)
	})

	r.Get("/events/terminal", app.handleTerminalEvents)
	r.Get("/events/terminal/stats", app.handleTerminalStats)

	// Thin proxies: body and content type pass through unchanged, the
	// leading path segment is stripped before forwarding.
	r.Handle("/tts/*", app.proxyHandler("tts", "tts"))
	r.Handle("/stt/*", app.proxyHandler("stt", "stt"))
	r.Handle("/speakers/*", app.proxyHandler("speaker", "speaker"))
	r.Handle("/audio/*", app.proxyHandler("audio", "audio"))

	return r
}
