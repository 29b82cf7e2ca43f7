package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"gatewayd/internal/dispatch"
)

var jsonHeader = http.Header{"Content-Type": []string{"application/json"}}

// handleChatCompletions is the OpenAI-compatible chat proxy. It picks
// the target model, makes sure it is resident on the backend, folds in
// stored profile defaults, and relays the backend response — streamed
// for stream:true, buffered otherwise.
func (app *Application) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	messages, _ := payload["messages"].([]any)
	if len(messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}
	explicit, _ := payload["model"].(string)
	model := app.Manager.SelectModel(explicit, messages)

	ctx, cancel := joinContexts(app.baseCtx(), r.Context())
	defer cancel()

	if err := app.Manager.EnsureLoaded(ctx, model); err != nil {
		writeError(w, app.Log, err)
		return
	}
	app.Manager.ApplyProfileDefaults(payload, model)
	payload["model"] = model

	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, app.Log, err)
		return
	}
	backendURL, err := app.Cfg.BackendURL(app.Cfg.LLMBackend)
	if err != nil {
		writeError(w, app.Log, err)
		return
	}
	req := dispatch.Request{
		Backend:      app.Cfg.LLMBackend,
		Method:       http.MethodPost,
		URL:          backendURL + "/v1/chat/completions",
		TimeoutClass: "llm",
		Body:         body,
		Header:       jsonHeader,
	}

	if stream, _ := payload["stream"].(bool); stream {
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
}

// relayBuffered passes a buffered backend response through unchanged,
// including upstream error statuses.
func relayBuffered(w http.ResponseWriter, resp *dispatch.Response) {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// relayStream copies a backend byte stream to the client, flushing
// each chunk. The request context cancels the upstream read when the
// client disconnects.
func (app *Application) relayStream(w http.ResponseWriter, r *http.Request, contentType string, body io.Reader) {
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF && r.Context().Err() == nil {
				app.Log.Warn().Err(err).Msg("stream relay interrupted")
			}
			return
		}
	}
}
