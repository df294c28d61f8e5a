package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/scheduler/events"
)

// EventsHandler upgrades HTTP requests to websocket subscriptions on the
// event hub. Create instances with NewEventsHandler.
type EventsHandler struct {
	hub    *events.Hub
	logger *zap.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(hub *events.Hub, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: logger.Named("api.events"),
	}
}

// Subscribe upgrades the connection and streams hub events for the requested
// topics. Topics come from the comma-separated "topics" query parameter and
// default to all of them.
//
//	GET /events?topics=agents,deployments
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	topics, ok := parseTopics(r.URL.Query().Get("topics"))
	if !ok {
		ErrBadRequest(w, "unknown topic; valid topics are 'agents' and 'deployments'")
		return
	}

	client, err := events.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		// NewClient already answered the request on upgrade failure.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client.Run()
}

func parseTopics(raw string) ([]string, bool) {
	if raw == "" {
		return []string{events.TopicAgents, events.TopicDeployments}, true
	}

	var topics []string
	for _, t := range strings.Split(raw, ",") {
		switch strings.TrimSpace(t) {
		case events.TopicAgents:
			topics = append(topics, events.TopicAgents)
		case events.TopicDeployments:
			topics = append(topics, events.TopicDeployments)
		case "":
			// tolerate stray commas
		default:
			return nil, false
		}
	}
	if len(topics) == 0 {
		return []string{events.TopicAgents, events.TopicDeployments}, true
	}
	return topics, true
}
