package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// errorResponse is the {error: {code, message, field?}} envelope spec.md
// §6 defines for the REST mirror, matching infrastructure/httputil's
// ErrorResponse shape but nested under an "error" key rather than flat.
type errorResponse struct {
	Error wsproto.Frame `json:"error"`
}

// statusForCode maps a wire error code onto the HTTP status spec.md §6
// calls out: 400 validation, 401/403 auth, 404 not found, 409 conflict,
// 503 overload/unavailable.
func statusForCode(code wsproto.Code) int {
	switch code {
	case wsproto.CodeValidationError, wsproto.CodeInvalidMessage, wsproto.CodeDecodeError:
		return http.StatusBadRequest
	case wsproto.CodeUnauthorized:
		return http.StatusForbidden
	case wsproto.CodeNotFound:
		return http.StatusNotFound
	case wsproto.CodeConflict, wsproto.CodeDeleteBlocked:
		return http.StatusConflict
	case wsproto.CodeTimeout, wsproto.CodeConnectionLimit:
		return http.StatusServiceUnavailable
	case wsproto.CodeSlowClient:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeEnvelope writes a dispatched envelope as the HTTP response: a typed
// error envelope maps to its wire status code and the {error:...} body,
// anything else writes its raw payload with 200 OK.
func writeEnvelope(w http.ResponseWriter, env *wsproto.Envelope) {
	if env.Kind != wsproto.KindErrorResponse {
		if len(env.Payload) == 0 {
			writeJSON(w, http.StatusOK, struct{}{})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(env.Payload)
		return
	}

	var frame wsproto.Frame
	if err := json.Unmarshal(env.Payload, &frame); err != nil {
		frame = wsproto.Frame{Code: wsproto.CodeInternalError, Message: "malformed error envelope"}
	}
	writeJSON(w, statusForCode(frame.Code), errorResponse{Error: frame})
}

// writeDecodeError is used when the HTTP body itself can't be parsed into
// the request shape the dispatcher expects, before an envelope ever exists.
func writeDecodeError(w http.ResponseWriter, field string, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: wsproto.Frame{
		Code:    wsproto.CodeDecodeError,
		Message: "could not decode request body: " + err.Error(),
		Field:   field,
	}})
}
