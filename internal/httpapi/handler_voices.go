package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatewayd/internal/voices"
)

func (app *Application) handleListVoices(w http.ResponseWriter, r *http.Request) {
	list, err := app.Voices.List()
	if err != nil {
		writeError(w, app.Log, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"voices": list})
}

// handleCreateVoice accepts a multipart form with a "name" field and
// one or more reference recordings under "files".
func (app *Application) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMediaBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := r.FormValue("name")
	files := r.MultipartForm.File["files"]
	uploads := make([]voices.Upload, 0, len(files))
	opened := make([]interface{ Close() error }, 0, len(files))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, voices.Upload{Filename: fh.Filename, Data: f})
	}

	voice, err := app.Voices.Create(name, uploads)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(voice)
}

func (app *Application) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	voice, err := app.Voices.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeVoiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(voice)
}

func (app *Application) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	if err := app.Voices.Delete(chi.URLParam(r, "id")); err != nil {
		writeVoiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeVoiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voices.ErrInvalidID):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, voices.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
