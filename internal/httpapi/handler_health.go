package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"gatewayd/pkg/types"
)

// handleHealth probes every registered backend concurrently and always
// answers 200: degraded backends are reported in the body, not as a
// failed call.
func (app *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]types.BackendHealth, len(app.Cfg.Backends))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name := range app.Cfg.Backends {
		url, err := app.Cfg.HealthURL(name)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(name, url string) {
			defer wg.Done()
			res := app.Client.HealthCheck(r.Context(), name, url)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, url)
	}
	wg.Wait()

	status := "healthy"
	for _, res := range results {
		if res.Status != "healthy" {
			status = "degraded"
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.HealthResponse{Status: status, Backends: results})
}
