package frontend

import (
	"encoding/json"
	"net/http"

	"github.com/overseer-dev/overseer/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	writeJSON(w, statusFor(code), errorBody{Error: err.Error(), Code: string(code)})
}

func statusFor(code core.ErrorCode) int {
	switch code {
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeConflict:
		return http.StatusConflict
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeUnauthorized:
		return http.StatusUnauthorized
	case core.CodeExternal:
		return http.StatusBadGateway
	case core.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Validation("invalid request body: %v", err)
	}
	return nil
}
