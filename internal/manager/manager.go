// Package manager orchestrates the model lifecycle on the LLM backend:
// it observes the backend's model registry, commands load/unload
// transitions, and folds persisted profile defaults into generation
// requests before dispatch.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/internal/dispatch"
	"gatewayd/internal/profile"
	"gatewayd/pkg/types"
)

// Dispatcher is the slice of the dispatch client the manager needs.
type Dispatcher interface {
	Do(ctx context.Context, req dispatch.Request) (*dispatch.Response, error)
}

// Config wires a Manager to its backend and defaults.
type Config struct {
	Backend      string // backend name for breaker bookkeeping
	BackendURL   string
	GeneralModel string
	CoderModel   string
	// PollInterval and LoadDeadline default to 1s / 240s.
	PollInterval time.Duration
	LoadDeadline time.Duration
}

// Manager ensures a target model is resident on the backend before a
// chat request proceeds. EnsureLoaded calls are serialized with a
// mutex: the backend holds a single resident model, so concurrent
// loads of different targets would only evict each other.
type Manager struct {
	client   Dispatcher
	store    *profile.Store
	cfg      Config
	loadMu   sync.Mutex
	log      zerolog.Logger
	jsonHdr  http.Header
}

// New builds a Manager. store may be nil when profile injection is not
// wanted (tests).
func New(client Dispatcher, store *profile.Store, cfg Config, log zerolog.Logger) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LoadDeadline <= 0 {
		cfg.LoadDeadline = 240 * time.Second
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	return &Manager{client: client, store: store, cfg: cfg, log: log, jsonHdr: hdr}
}

// ListModels fetches the backend registry and collapses split models.
func (m *Manager) ListModels(ctx context.Context) ([]types.ModelEntry, error) {
	raw, err := m.fetchRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return Collapse(raw), nil
}

// ModelViews is ListModels plus the physical part count per collapsed
// entry; Parts stays zero for unsplit models.
func (m *Manager) ModelViews(ctx context.Context) ([]types.ModelView, error) {
	raw, err := m.fetchRegistry(ctx)
	if err != nil {
		return nil, err
	}
	collapsed := Collapse(raw)
	views := make([]types.ModelView, 0, len(collapsed))
	for _, e := range collapsed {
		view := types.ModelView{ID: e.ID, Status: e.Status}
		if n := PartCount(raw, e.ID); n > 1 {
			view.Parts = n
		}
		views = append(views, view)
	}
	return views, nil
}

func (m *Manager) fetchRegistry(ctx context.Context) ([]types.ModelEntry, error) {
	resp, err := m.client.Do(ctx, dispatch.Request{
		Backend:      m.cfg.Backend,
		Method:       http.MethodGet,
		URL:          m.cfg.BackendURL + "/models",
		TimeoutClass: "default",
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model registry returned status %d", resp.StatusCode)
	}
	var list types.ModelList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("decode model registry: %w", err)
	}
	return list.Models, nil
}

func (m *Manager) command(ctx context.Context, action, modelID string) (*dispatch.Response, error) {
	body, _ := json.Marshal(types.ModelCommand{Model: modelID})
	return m.client.Do(ctx, dispatch.Request{
		Backend:      m.cfg.Backend,
		Method:       http.MethodPost,
		URL:          m.cfg.BackendURL + "/models/" + action,
		TimeoutClass: "default",
		Body:         body,
		Header:       m.jsonHdr,
	})
}

// Unload commands the backend to unload a model. Best-effort: a non-200
// response is surfaced but does not wrap further.
func (m *Manager) Unload(ctx context.Context, modelID string) error {
	resp, err := m.command(ctx, "unload", modelID)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unload %s: backend returned status %d", modelID, resp.StatusCode)
	}
	return nil
}

// Profile returns the stored profile values for a model.
func (m *Manager) Profile(modelID string) map[string]any {
	if m.store == nil {
		return map[string]any{}
	}
	return m.store.Get(modelID)
}

// ApplyProfileDefaults merges the stored profile for modelID into a
// chat payload. Fill-in-the-gaps only; caller values always win.
func (m *Manager) ApplyProfileDefaults(payload map[string]any, modelID string) {
	ApplyDefaults(payload, m.Profile(modelID), profile.Family(modelID))
}
