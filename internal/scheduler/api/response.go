// Package api implements the scheduler's HTTP surface: heartbeat intake,
// the upload/build/dispatch pipeline, registry and placement snapshots, the
// proxied log and cancel endpoints, the live events feed, and the metrics
// and health probes.
//
// All responses are flat JSON objects. Errors use the shared shape
// {"status":"error", "message": ..., "code": ...}; the message carries the
// underlying cause verbatim because the uploader is an operator, not an
// untrusted third party.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/DIGVI962/DRaaS/internal/fabric"
)

// JSON writes a JSON-encoded response with the given status code.
// It sets Content-Type to application/json automatically.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errJSON writes the shared error body with the given status, message, and
// machine-readable code.
func errJSON(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, fabric.ErrorResponse{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}

// ErrBadRequest writes a 400 for malformed or incomplete payloads.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, fabric.CodeBadRequest)
}

// ErrBadBundle writes a 400 for bundles that cannot be extracted or that
// lack a locatable Dockerfile.
func ErrBadBundle(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, fabric.CodeBadBundle)
}

// ErrBuildFailed writes a 500 carrying the engine's build diagnostic.
func ErrBuildFailed(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusInternalServerError, message, fabric.CodeBuildFailed)
}

// ErrPushFailed writes a 500 carrying the registry's push diagnostic.
func ErrPushFailed(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusInternalServerError, message, fabric.CodePushFailed)
}

// ErrNoAgents writes a 503; the condition is transient and the caller may
// retry once an agent frees up or comes online.
func ErrNoAgents(w http.ResponseWriter) {
	errJSON(w, http.StatusServiceUnavailable, "no agents available", fabric.CodeNoAgentsAvailable)
}

// ErrUnknownDeployment writes a 404 for a deployment ID with no placement.
// The scheduler uses 404 where the worker uses 400: the scheduler treats
// placements as resources, the worker treats the ID as a payload field.
func ErrUnknownDeployment(w http.ResponseWriter) {
	errJSON(w, http.StatusNotFound, "unknown deployment id", fabric.CodeUnknownDeployment)
}

// ErrDispatchFailed writes a 500 for workers that refused a start or could
// not be reached.
func ErrDispatchFailed(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusInternalServerError, message, fabric.CodeDispatchFailed)
}

// decodeJSON decodes the request body into dst. Returns false and writes an
// appropriate error response if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
