package relay

import (
	"encoding/json"
	"net/http"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
)

// errRateLimited is reported when a subject opens connections too fast.
var errRateLimited = errors.New(errors.KindGeneral, "rate limit exceeded")

// StatusFor maps a pre-upgrade failure to the HTTP status sent to the client.
func StatusFor(err error) int {
	if errors.Is(err, errRateLimited) {
		return http.StatusTooManyRequests
	}
	switch errors.KindOf(err) {
	case errors.KindAuthentication:
		return http.StatusUnauthorized
	case errors.KindNoRoute:
		return http.StatusNotFound
	case errors.KindResolution:
		return http.StatusBadGateway
	case errors.KindProvisioning:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorType(err error) string {
	if errors.Is(err, errRateLimited) {
		return "rate_limit_error"
	}
	switch errors.KindOf(err) {
	case errors.KindAuthentication:
		return "authentication_error"
	case errors.KindNoRoute:
		return "no_route_error"
	case errors.KindResolution:
		return "resolution_error"
	case errors.KindProvisioning:
		return "provisioning_error"
	default:
		return "internal_error"
	}
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError sends err as a JSON error body. Authentication failures carry
// no detail.
func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Type = errorType(err)
	body.Error.Message = err.Error()
	if errors.KindOf(err) == errors.KindAuthentication {
		body.Error.Message = "unauthorized"
	}
	writeJSON(w, StatusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
