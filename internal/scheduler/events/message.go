// Package events implements the scheduler's live event feed: a WebSocket
// pub/sub hub that pushes registry and placement transitions to subscribed
// clients so dashboards do not have to poll /agents and /deployments.
//
// Two topics exist:
//
//	agents       agents coming online or expiring from the registry
//	deployments  placement lifecycle transitions
package events

import "time"

// Topics clients can subscribe to.
const (
	TopicAgents      = "agents"
	TopicDeployments = "deployments"
)

// MessageType identifies the kind of event carried by a Message.
type MessageType string

const (
	// MsgAgentOnline is sent when a first heartbeat registers an agent.
	MsgAgentOnline MessageType = "agent.online"

	// MsgAgentExpired is sent when the expiry sweep drops a silent agent.
	MsgAgentExpired MessageType = "agent.expired"

	// MsgDeploymentStarted is sent when a dispatch succeeds.
	MsgDeploymentStarted MessageType = "deployment.started"

	// MsgDeploymentCancelled is sent when a relayed cancel succeeds.
	MsgDeploymentCancelled MessageType = "deployment.cancelled"

	// MsgDeploymentStatus is sent when a proxied worker response changes a
	// placement's cached status.
	MsgDeploymentStatus MessageType = "deployment.status"
)

// Message is the envelope for every frame pushed to clients.
//
// JSON example:
//
//	{"type":"deployment.started","topic":"deployments",
//	 "payload":{"deployment_id":"..."},"ts":"2025-11-04T10:21:07Z"}
type Message struct {
	Type    MessageType `json:"type"`
	Topic   string      `json:"topic"`
	Payload any         `json:"payload"`
	TS      time.Time   `json:"ts"`
}

// NewMessage builds a Message stamped with the current time.
func NewMessage(t MessageType, topic string, payload any) Message {
	return Message{
		Type:    t,
		Topic:   topic,
		Payload: payload,
		TS:      time.Now().UTC(),
	}
}
