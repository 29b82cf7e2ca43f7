package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/internal/dispatch"
	"gatewayd/pkg/types"
)

// fakeBackend simulates the LLM backend's model registry: loads flip a
// model to loading and complete after loadTicks registry reads.
type fakeBackend struct {
	mu        sync.Mutex
	models    map[string]*types.ModelStatus
	loadTicks int
	pending   map[string]int
	loads     []string
	unloads   []string
}

func newFakeBackend(loadTicks int, ids ...string) *fakeBackend {
	models := map[string]*types.ModelStatus{}
	for _, id := range ids {
		models[id] = &types.ModelStatus{Value: types.StatusUnloaded}
	}
	return &fakeBackend{models: models, loadTicks: loadTicks, pending: map[string]int{}}
}

func (f *fakeBackend) Do(_ context.Context, req dispatch.Request) (*dispatch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case req.Method == http.MethodGet && strings.HasSuffix(req.URL, "/models"):
		var list types.ModelList
		for id, st := range f.models {
			if left, ok := f.pending[id]; ok {
				if left <= 0 {
					st.Value = types.StatusLoaded
					delete(f.pending, id)
				} else {
					f.pending[id] = left - 1
				}
			}
			list.Models = append(list.Models, types.ModelEntry{ID: id, Status: *st})
		}
		body, _ := json.Marshal(list)
		return &dispatch.Response{StatusCode: http.StatusOK, Body: body}, nil
	case strings.HasSuffix(req.URL, "/models/load"):
		var cmd types.ModelCommand
		json.Unmarshal(req.Body, &cmd)
		f.loads = append(f.loads, cmd.Model)
		if st, ok := f.models[cmd.Model]; ok {
			st.Value = types.StatusLoading
			f.pending[cmd.Model] = f.loadTicks
		}
		return &dispatch.Response{StatusCode: http.StatusOK, Body: []byte("{}")}, nil
	case strings.HasSuffix(req.URL, "/models/unload"):
		var cmd types.ModelCommand
		json.Unmarshal(req.Body, &cmd)
		f.unloads = append(f.unloads, cmd.Model)
		if st, ok := f.models[cmd.Model]; ok {
			st.Value = types.StatusUnloaded
		}
		return &dispatch.Response{StatusCode: http.StatusOK, Body: []byte("{}")}, nil
	}
	return &dispatch.Response{StatusCode: http.StatusNotFound}, nil
}

func (f *fakeBackend) set(id string, st types.ModelStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := st
	f.models[id] = &cp
}

func ensureManager(backend *fakeBackend) *Manager {
	return New(backend, nil, Config{
		Backend:      "llm",
		BackendURL:   "http://llm",
		GeneralModel: "qwen3-32b",
		CoderModel:   "qwen3-coder-30b",
		PollInterval: 5 * time.Millisecond,
		LoadDeadline: 500 * time.Millisecond,
	}, zerolog.Nop())
}

func TestEnsureLoadedLoadsAndPolls(t *testing.T) {
	backend := newFakeBackend(2, "qwen3-32b", "gpt-oss-120b")
	m := ensureManager(backend)
	if err := m.EnsureLoaded(context.Background(), "qwen3-32b"); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if len(backend.loads) != 1 || backend.loads[0] != "qwen3-32b" {
		t.Fatalf("loads = %v", backend.loads)
	}
	if len(backend.unloads) != 0 {
		t.Fatalf("unexpected unloads: %v", backend.unloads)
	}
}

func TestEnsureLoadedNoopWhenResident(t *testing.T) {
	backend := newFakeBackend(0, "qwen3-32b")
	backend.set("qwen3-32b", types.ModelStatus{Value: types.StatusLoaded})
	m := ensureManager(backend)
	if err := m.EnsureLoaded(context.Background(), "qwen3-32b"); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if len(backend.loads) != 0 {
		t.Fatalf("resident model reloaded: %v", backend.loads)
	}
}

func TestEnsureLoadedEvictsOtherModel(t *testing.T) {
	backend := newFakeBackend(1, "qwen3-32b", "gpt-oss-120b")
	backend.set("gpt-oss-120b", types.ModelStatus{Value: types.StatusLoaded})
	m := ensureManager(backend)
	if err := m.EnsureLoaded(context.Background(), "qwen3-32b"); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if len(backend.unloads) != 1 || backend.unloads[0] != "gpt-oss-120b" {
		t.Fatalf("unloads = %v", backend.unloads)
	}
}

func TestEnsureLoadedUnknownModel(t *testing.T) {
	backend := newFakeBackend(0, "qwen3-32b")
	m := ensureManager(backend)
	err := m.EnsureLoaded(context.Background(), "nope")
	if !IsUnknownModel(err) {
		t.Fatalf("err = %v, want unknown model", err)
	}
}

func TestEnsureLoadedFailedFlag(t *testing.T) {
	backend := newFakeBackend(1_000_000, "qwen3-32b")
	m := ensureManager(backend)
	// Flip to failed shortly after the load command lands.
	go func() {
		time.Sleep(10 * time.Millisecond)
		backend.set("qwen3-32b", types.ModelStatus{Value: types.StatusUnloaded, Failed: true})
	}()
	err := m.EnsureLoaded(context.Background(), "qwen3-32b")
	if !IsLoadFailed(err) {
		t.Fatalf("err = %v, want load failed", err)
	}
}

func TestEnsureLoadedContextCancel(t *testing.T) {
	backend := newFakeBackend(1_000_000, "qwen3-32b")
	m := ensureManager(backend)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.EnsureLoaded(ctx, "qwen3-32b"); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want context deadline", err)
	}
}

func TestEnsureLoadedResolvesCollapsedID(t *testing.T) {
	// The caller addresses the logical id; the registry knows only the
	// parts. The fake never completes a load of the logical id, so the
	// call ends in a deadline, never in "unknown model".
	backend := newFakeBackend(1_000_000, "foo-1-of-2", "foo-2-of-2")
	m := ensureManager(backend)
	err := m.EnsureLoaded(context.Background(), "foo")
	if IsUnknownModel(err) {
		t.Fatalf("collapsed id reported unknown")
	}
	if !IsLoadTimeout(err) {
		t.Fatalf("err = %v, want load timeout", err)
	}
	if len(backend.loads) != 1 || backend.loads[0] != "foo" {
		t.Fatalf("loads = %v", backend.loads)
	}
}

func TestListModelsCollapses(t *testing.T) {
	backend := newFakeBackend(0, "foo-1-of-2", "foo-2-of-2", "bar")
	m := ensureManager(backend)
	entries, err := m.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
}
