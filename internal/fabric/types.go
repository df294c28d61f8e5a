// Package fabric defines the domain types and wire payloads shared by the
// scheduler and the agent. Both roles speak plain JSON over HTTP; every
// request and response body exchanged between them (or with clients) is
// declared here so the two halves cannot drift apart.
package fabric

import "github.com/docker/go-connections/nat"

// ─── Agent ───────────────────────────────────────────────────────────────────

// AgentState is the availability of a worker agent. An agent runs at most one
// deployment at a time, so the state is a process-wide scalar.
type AgentState string

const (
	AgentFree AgentState = "Free"
	AgentBusy AgentState = "Busy"
)

// DefaultReputation is assigned to agents whose heartbeat omits the field.
// Reputation is recorded and reported but not yet consulted by selection.
const DefaultReputation = 50

// ─── Deployment ──────────────────────────────────────────────────────────────

// DeploymentStatus is the lifecycle state of a deployment, as tracked by the
// owning worker and cached by the scheduler.
type DeploymentStatus string

const (
	StatusRunning   DeploymentStatus = "running"
	StatusCompleted DeploymentStatus = "completed"
	StatusFailed    DeploymentStatus = "failed"
	StatusCancelled DeploymentStatus = "cancelled"
	StatusUnknown   DeploymentStatus = "unknown"
)

// Terminal reports whether s is an end state. A terminal status never
// transitions again.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// PortMap is the container runtime's port bindings, keyed by container
// port/protocol. It marshals to the same JSON shape the Docker Engine
// reports under NetworkSettings.Ports, e.g.
//
//	{"8080/tcp": [{"HostIp": "0.0.0.0", "HostPort": "32768"}]}
type PortMap = nat.PortMap

// ─── Wire: agent → scheduler ─────────────────────────────────────────────────

// Heartbeat is the periodic report POSTed by an agent to /heartbeat.
// Reputation is optional; absent means "use the default".
type Heartbeat struct {
	AgentID    string     `json:"agent_id"`
	IP         string     `json:"ip"`
	CPU        float64    `json:"cpu"`
	Memory     float64    `json:"memory"`
	State      AgentState `json:"state"`
	Reputation *int       `json:"reputation,omitempty"`
}

// ─── Wire: scheduler → agent ─────────────────────────────────────────────────

// StartDeploymentRequest asks a worker to run a container from an image.
type StartDeploymentRequest struct {
	Image         string `json:"image"`
	ContainerName string `json:"container_name,omitempty"`
}

// CancelDeploymentRequest identifies the deployment to stop.
type CancelDeploymentRequest struct {
	DeploymentID string `json:"deployment_id"`
}

// ─── Wire: agent responses ───────────────────────────────────────────────────

// StartDeploymentResponse acknowledges an accepted deployment.
type StartDeploymentResponse struct {
	Status       string  `json:"status"`
	DeploymentID string  `json:"deployment_id"`
	MappedPorts  PortMap `json:"mapped_ports"`
}

// DeploymentLogsResponse is the worker's answer to a logs query: the current
// status, everything buffered so far, and the port snapshot taken at start.
type DeploymentLogsResponse struct {
	Status      DeploymentStatus `json:"status"`
	Logs        string           `json:"logs"`
	MappedPorts PortMap          `json:"mapped_ports"`
}

// CancelDeploymentResponse acknowledges a cancellation. Status carries the
// task's (possibly pre-existing) terminal status, so repeated cancels are
// observably idempotent.
type CancelDeploymentResponse struct {
	Status       DeploymentStatus `json:"status"`
	DeploymentID string           `json:"deployment_id"`
}

// ─── Wire: scheduler responses ───────────────────────────────────────────────

// AgentRecord is one registry entry as served by GET /agents.
// LastSeen is Unix seconds.
type AgentRecord struct {
	IP         string     `json:"ip"`
	CPU        float64    `json:"cpu"`
	Memory     float64    `json:"memory"`
	State      AgentState `json:"state"`
	Reputation int        `json:"reputation"`
	LastSeen   float64    `json:"last_seen"`
}

// PlacementRecord is one deployment placement as served by GET /deployments.
// Agent is the owning worker's endpoint, verbatim as advertised.
type PlacementRecord struct {
	DeploymentID string           `json:"deployment_id"`
	Agent        string           `json:"agent"`
	Image        string           `json:"image"`
	MappedPorts  PortMap          `json:"mapped_ports"`
	Status       DeploymentStatus `json:"status"`
}

// DeployedResponse is the success body of POST /upload_code. Logs is always
// empty at deploy time; clients poll /deployment_logs for output.
type DeployedResponse struct {
	Status       string  `json:"status"`
	Agent        string  `json:"agent"`
	Image        string  `json:"image"`
	DeploymentID string  `json:"deployment_id"`
	MappedPorts  PortMap `json:"mapped_ports"`
	Logs         string  `json:"logs"`
}
