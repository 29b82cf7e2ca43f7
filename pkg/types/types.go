package types

// ErrorResponse is the JSON error envelope returned by every handler.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// BackendHealth is the probe result for a single backend.
type BackendHealth struct {
	Status string `json:"status"` // healthy | unhealthy | unreachable
	Code   int    `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse aggregates per-backend probe results.
type HealthResponse struct {
	Status   string                   `json:"status"` // healthy | degraded
	Backends map[string]BackendHealth `json:"backends"`
}

// Model load states as reported by the LLM backend's registry.
const (
	StatusUnloaded  = "unloaded"
	StatusLoading   = "loading"
	StatusLoaded    = "loaded"
	StatusUnloading = "unloading"
	StatusUnknown   = "unknown"
)

// ModelStatus is the load state of one registry entry. It is owned by
// the backend; the gateway only observes it.
type ModelStatus struct {
	Value  string   `json:"value"`
	Failed bool     `json:"failed,omitempty"`
	Args   []string `json:"args,omitempty"`
}

// ModelEntry is one entry of the backend model registry.
type ModelEntry struct {
	ID     string      `json:"id"`
	Status ModelStatus `json:"status"`
}

// ModelList is the wire shape of the backend's GET /models response.
type ModelList struct {
	Models []ModelEntry `json:"models"`
}

// ModelView is a registry entry annotated for gateway clients: split
// models are collapsed and any stored profile is attached.
type ModelView struct {
	ID      string         `json:"id"`
	Status  ModelStatus    `json:"status"`
	Parts   int            `json:"parts,omitempty"`
	Profile map[string]any `json:"profile,omitempty"`
}

// ModelCommand is the body of POST /models/load and /models/unload.
type ModelCommand struct {
	Model string `json:"model"`
}

// ProfileUpdate is the body of PUT /models/{id}/profile. With Replace
// set the stored values are replaced wholesale; otherwise Values is a
// merge-patch where a JSON null deletes that key.
type ProfileUpdate struct {
	Values  map[string]any `json:"values"`
	Replace bool           `json:"replace,omitempty"`
}

// ProfileApply extends ProfileUpdate for POST /models/{id}/profile/apply.
type ProfileApply struct {
	ProfileUpdate
	Load bool `json:"load,omitempty"`
}

// ProfileResponse is the stored profile of one model.
type ProfileResponse struct {
	Model  string         `json:"model"`
	Values map[string]any `json:"values"`
}

// Voice describes one stored voice with its reference recordings.
type Voice struct {
	ID         string   `json:"voice_id"`
	Name       string   `json:"name"`
	CreatedAt  string   `json:"created_at"`
	References []string `json:"references"`
}
