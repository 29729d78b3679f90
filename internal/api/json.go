package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/examvault/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

func errorBody(code, msg string) errResponse {
	return errResponse{Error: msg, Code: code}
}

var errorStatus = map[string]struct {
	status int
	msg    string
}{
	apperr.CodeNotFound:         {http.StatusNotFound, "not found"},
	apperr.CodeAlreadyEncrypted: {http.StatusConflict, "document already encrypted"},
	apperr.CodeAccessDenied:     {http.StatusForbidden, "document is not released today"},
	apperr.CodeConfiguration:    {http.StatusServiceUnavailable, "encryption key is not configured correctly"},
	apperr.CodeDecryption:       {http.StatusInternalServerError, "stored ciphertext could not be decrypted"},
	apperr.CodeIntegrity:        {http.StatusInternalServerError, "content does not match its recorded digest"},
	apperr.CodeConflict:         {http.StatusConflict, "ledger is busy, retry"},
	apperr.CodeInvalidRequest:   {http.StatusBadRequest, "invalid request"},
}

// writeError maps err to its reason code and status. Internal details are
// logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.Code(err)
	e, ok := errorStatus[code]
	if !ok {
		e.status, e.msg = http.StatusInternalServerError, "internal error"
	}
	if e.status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.String("error", err.Error()))
	}
	writeJSON(w, e.status, errorBody(code, e.msg))
}
