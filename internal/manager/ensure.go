package manager

import (
	"context"
	"net/http"
	"time"

	"gatewayd/pkg/types"
)

// EnsureLoaded drives the target model to the loaded state: evict any
// other resident model, command a load if needed, and poll until the
// target reaches a terminal state. Idempotent; returns nil once the
// model is confirmed loaded.
func (m *Manager) EnsureLoaded(ctx context.Context, modelID string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	entries, err := m.fetchRegistry(ctx)
	if err != nil {
		return err
	}
	collapsed := Collapse(entries)
	target, ok := findEntry(collapsed, modelID)
	if !ok {
		return unknownModelError{id: modelID}
	}

	// Evict others first: the backend holds one resident model, so any
	// load implicitly needs the rest gone. Sequential and best-effort.
	for _, e := range collapsed {
		if e.ID == modelID || e.Status.Value != types.StatusLoaded {
			continue
		}
		if err := m.Unload(ctx, e.ID); err != nil {
			m.log.Warn().Str("model", e.ID).Err(err).Msg("unload before load failed")
		}
	}

	if target.Status.Value == types.StatusLoaded {
		return nil
	}
	if target.Status.Value != types.StatusLoading {
		resp, err := m.command(ctx, "load", modelID)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return loadFailedError{id: modelID, reason: "load command returned status " + http.StatusText(resp.StatusCode)}
		}
		m.log.Info().Str("model", modelID).Msg("load command issued")
	}

	return m.pollUntilLoaded(ctx, modelID)
}

// pollUntilLoaded re-reads the registry at a fixed interval until the
// target is loaded, reported failed, or the deadline elapses.
func (m *Manager) pollUntilLoaded(ctx context.Context, modelID string) error {
	deadline := time.Now().Add(m.cfg.LoadDeadline)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		entries, err := m.fetchRegistry(ctx)
		if err != nil {
			return err
		}
		target, ok := findEntry(Collapse(entries), modelID)
		if !ok {
			return unknownModelError{id: modelID}
		}
		if target.Status.Failed {
			return loadFailedError{id: modelID, reason: "backend reported failed load"}
		}
		if target.Status.Value == types.StatusLoaded {
			return nil
		}
		if time.Now().After(deadline) {
			return loadTimeoutError{id: modelID, after: m.cfg.LoadDeadline}
		}
	}
}

func findEntry(entries []types.ModelEntry, id string) (types.ModelEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return types.ModelEntry{}, false
}
