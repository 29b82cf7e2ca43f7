package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"gatewayd/internal/dispatch"
	"gatewayd/internal/manager"
	"gatewayd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps component errors onto the HTTP taxonomy. Unexpected
// errors are logged with full detail server-side and returned as a
// generic 500.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case manager.IsUnknownModel(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case manager.IsLoadFailed(err):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	case manager.IsLoadTimeout(err):
		writeJSONError(w, http.StatusGatewayTimeout, err.Error())
	case dispatch.IsUnavailable(err):
		writeJSONError(w, http.StatusServiceUnavailable, "backend unavailable")
	case dispatch.IsUpstreamTimeout(err):
		writeJSONError(w, http.StatusGatewayTimeout, "backend timeout")
	default:
		log.Error().Err(err).Msg("unhandled request error")
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
