package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatewayd/internal/dispatch"
)

// maxMediaBody caps pass-through bodies on the audio proxies.
const maxMediaBody = 128 << 20

// proxyHandler builds a thin pass-through to a named backend. The
// mount prefix is stripped, query strings and content type survive,
// and paths ending in /stream are relayed chunk by chunk.
func (app *Application) proxyHandler(backend, class string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendURL, err := app.Cfg.BackendURL(backend)
		if err != nil {
			writeError(w, app.Log, err)
			return
		}
		rest := chi.URLParam(r, "*")
		target := backendURL + "/" + rest
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		var body []byte
		if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
			body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxMediaBody))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
		}
		header := make(http.Header)
		if ct := r.Header.Get("Content-Type"); ct != "" {
			header.Set("Content-Type", ct)
		}
		if acc := r.Header.Get("Accept"); acc != "" {
			header.Set("Accept", acc)
		}

		req := dispatch.Request{
			Backend:      backend,
			Method:       r.Method,
			URL:          target,
			TimeoutClass: class,
			Body:         body,
			Header:       header,
		}
		ctx, cancel := joinContexts(app.baseCtx(), r.Context())
		defer cancel()

		if strings.HasSuffix(strings.TrimRight(rest, "/"), "stream") {
			resp, err := app.Client.Stream(ctx, req)
			if err != nil {
				writeError(w, app.Log, err)
				return
			}
			defer resp.Body.Close()
			app.relayStream(w, r, resp.Header.Get("Content-Type"), resp.Body)
			return
		}

		resp, err := app.Client.Do(ctx, req)
		if err != nil {
			writeError(w, app.Log, err)
			return
		}
		relayBuffered(w, resp)
	})
}
