package fabric

// ErrorResponse is the uniform error body returned by both roles. Code is a
// stable machine-readable kind; Message is for humans and never parsed.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeBadRequest        = "bad_request"
	CodeBadBundle         = "bad_bundle"
	CodeBuildFailed       = "build_failed"
	CodePushFailed        = "push_failed"
	CodeNoAgentsAvailable = "no_agents_available"
	CodeAgentBusy         = "agent_busy"
	CodeUnknownDeployment = "unknown_deployment"
	CodeDispatchFailed    = "dispatch_failed"
	CodeRuntimeError      = "runtime_error"
)
