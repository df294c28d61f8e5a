// Package api implements the worker agent's HTTP surface: starting a
// deployment, reading its status and logs, and cancelling it. The scheduler
// is the only intended caller; error causes are therefore exposed verbatim
// so they can be relayed onward to the uploading client.
//
// All responses are flat JSON objects. Errors use the shared shape
// {"status":"error", "message": ..., "code": ...}.
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

// ErrAgentBusy writes a 400 refusing a second concurrent deployment.
func ErrAgentBusy(w http.ResponseWriter) {
	errJSON(w, http.StatusBadRequest, "a deployment is already running on this agent", fabric.CodeAgentBusy)
}

// ErrUnknownDeployment writes a 400 for a deployment ID this agent does not
// hold. The worker uses 400 here, not 404: its routes exist, the ID in the
// payload is what is wrong.
func ErrUnknownDeployment(w http.ResponseWriter) {
	errJSON(w, http.StatusBadRequest, "unknown deployment id", fabric.CodeUnknownDeployment)
}

// ErrRuntime writes a 500 carrying the container runtime's failure cause.
func ErrRuntime(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusInternalServerError, message, fabric.CodeRuntimeError)
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
