// Package sse streams conversation activity to tenant dashboards over
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"sync"

	"convopilot_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventMessageReceived   EventType = "message_received"
	EventMessageSent       EventType = "message_sent"
	EventDeliveryStatus    EventType = "delivery_status"
	EventHandoverInitiated EventType = "handover_initiated"
	EventHandoverRecovered EventType = "handover_recovered"
	EventStateChanged      EventType = "state_changed"
	EventLeadConverted     EventType = "lead_converted"
	EventCircuitOpened     EventType = "circuit_opened"
	EventBuyingSignal      EventType = "buying_signal"
)

// Event represents an SSE event payload
type Event struct {
	Type    EventType   `json:"type"`
	LeadID  uuid.UUID   `json:"leadId,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	tenantID uuid.UUID
	events   chan Event
}

// Service manages SSE connections and event broadcasting, scoped by tenant.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client // tenantID -> clients
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.tenantID] = append(s.clients[c.tenantID], c)
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.tenantID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.tenantID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(s.clients[c.tenantID]) == 0 {
		delete(s.clients, c.tenantID)
	}

	close(c.events)
}

// Publish sends an event to every dashboard connected for the tenant.
// Slow consumers drop events instead of blocking the publisher.
func (s *Service) Publish(tenantID uuid.UUID, event Event) {
	s.mu.RLock()
	clients := s.clients[tenantID]
	s.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse event buffer full", "tenantId", tenantID, "type", event.Type)
		}
	}
}

// Handler returns a Gin handler for SSE connections. getTenantID supplies
// the authenticated tenant for the connection.
func (s *Service) Handler(getTenantID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := getTenantID(c)
		if !ok {
			c.JSON(401, gin.H{"error": "unauthorized"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			tenantID: tenantID,
			events:   make(chan Event, 32),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"tenantId": tenantID})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close shuts down the SSE service
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}
