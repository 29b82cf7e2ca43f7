package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatewayd/internal/manager"
	"gatewayd/internal/profile"
	"gatewayd/pkg/types"
)

// handleListModels returns the backend registry with split models
// collapsed and stored profiles attached.
func (app *Application) handleListModels(w http.ResponseWriter, r *http.Request) {
	views, err := app.Manager.ModelViews(r.Context())
	if err != nil {
		writeError(w, app.Log, err)
		return
	}
	for i := range views {
		if vals := app.Profiles.Get(views[i].ID); len(vals) > 0 {
			views[i].Profile = vals
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"models": views})
}

func decodeModelCommand(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var cmd types.ModelCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil || cmd.Model == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return "", false
	}
	return cmd.Model, true
}

// handleLoadModel drives the target to loaded, evicting any other
// resident model first.
func (app *Application) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	model, ok := decodeModelCommand(w, r)
	if !ok {
		return
	}
	ctx, cancel := joinContexts(app.baseCtx(), r.Context())
	defer cancel()
	if err := app.Manager.EnsureLoaded(ctx, model); err != nil {
		writeError(w, app.Log, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"model": model, "status": types.StatusLoaded})
}

func (app *Application) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	model, ok := decodeModelCommand(w, r)
	if !ok {
		return
	}
	if err := app.Manager.Unload(r.Context(), model); err != nil {
		writeError(w, app.Log, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"model": model, "status": types.StatusUnloaded})
}

func (app *Application) handleModelSchema(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":  model,
		"family": profile.Family(model),
		"fields": profile.SchemaFor(model),
	})
}

func (app *Application) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.ProfileResponse{Model: model, Values: app.Profiles.Get(model)})
}

// handlePutProfile validates and persists profile values: full replace
// or merge-patch, where a JSON null deletes a key.
func (app *Application) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var update types.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	values, err := app.saveProfile(model, update)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.ProfileResponse{Model: model, Values: values})
}

// handleApplyProfile persists the profile and optionally loads the
// model so the new settings take effect immediately.
func (app *Application) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var apply types.ProfileApply
	if err := json.NewDecoder(r.Body).Decode(&apply); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	values, err := app.saveProfile(model, apply.ProfileUpdate)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := "saved"
	if apply.Load {
		ctx, cancel := joinContexts(app.baseCtx(), r.Context())
		defer cancel()
		if err := app.Manager.EnsureLoaded(ctx, model); err != nil {
			if manager.IsUnknownModel(err) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
			} else {
				writeError(w, app.Log, err)
			}
			return
		}
		status = types.StatusLoaded
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"model": model, "status": status, "values": values})
}

func (app *Application) saveProfile(model string, update types.ProfileUpdate) (map[string]any, error) {
	if err := profile.Validate(model, update.Values); err != nil {
		return nil, err
	}
	if update.Replace {
		return app.Profiles.Set(model, update.Values)
	}
	return app.Profiles.Patch(model, update.Values)
}
