package httpapi

import (
	"io"
	"net/http"

	"gatewayd/internal/dispatch"
)

// handleEmbeddings forwards the request body to the embeddings backend
// unchanged. Embeddings responses are small, so the relay is buffered.
func (app *Application) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	backendURL, err := app.Cfg.BackendURL(app.Cfg.EmbeddingsBackend)
	if err != nil {
		writeError(w, app.Log, err)
		return
	}
	ctx, cancel := joinContexts(app.baseCtx(), r.Context())
	defer cancel()
	resp, err := app.Client.Do(ctx, dispatch.Request{
		Backend:      app.Cfg.EmbeddingsBackend,
		Method:       http.MethodPost,
		URL:          backendURL + "/v1/embeddings",
		TimeoutClass: "embeddings",
		Body:         body,
		Header:       jsonHeader,
	})
	if err != nil {
		writeError(w, app.Log, err)
		return
	}
	relayBuffered(w, resp)
}
