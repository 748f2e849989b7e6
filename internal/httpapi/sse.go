package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/haldanelabs/learnd/internal/events"
)

// sseHeartbeat keeps proxies from timing the stream out.
const sseHeartbeat = 30 * time.Second

// handleEvents streams learning lifecycle events via Server-Sent Events.
//
// The handler subscribes to the NATS subjects for the given stream ID
// (a session, experiment or optimization result ID) and relays each
// message as one SSE event. The connection stays open until the client
// disconnects or a terminal training status arrives.
//
// Example:
//
//	GET /api/v1/events/{session_id}
//
//	event: training_status
//	data: {"id":"...","status":"running",...}
//
//	event: training_progress
//	data: {"id":"...","progress":40,...}
func (s *Server) handleEvents(c echo.Context) error {
	if s.nc == nil {
		return c.JSON(http.StatusServiceUnavailable, envelope{
			Success: false,
			Error:   "event streaming is not available without a broker",
		})
	}
	streamID := c.Param("session_id")

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")

	msgChan := make(chan *nats.Msg, 10)
	sub, err := s.nc.ChanSubscribe(events.StreamSubject(streamID), msgChan)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			// Subject shape: learning.{stream_id}.{event}
			parts := strings.Split(msg.Subject, ".")
			if len(parts) < 3 {
				continue
			}
			eventType := parts[2]

			fmt.Fprintf(c.Response(), "event: %s\n", eventType)
			fmt.Fprintf(c.Response(), "data: %s\n\n", string(msg.Data))
			c.Response().Flush()

			if eventType == string(events.EventTrainingStatus) && isTerminal(msg.Data) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// isTerminal reports whether a training_status payload carries a
// terminal status. Cheap substring check to avoid decoding every event.
func isTerminal(data []byte) bool {
	s := string(data)
	return strings.Contains(s, `"status":"completed"`) ||
		strings.Contains(s, `"status":"failed"`)
}
