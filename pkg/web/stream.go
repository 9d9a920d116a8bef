package web

import (
	"bufio"
	"strconv"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/gofiber/fiber/v3"
)

const (
	heartbeatInterval = 15 * time.Second
	streamBuffer      = 256
)

// StreamExecution streams node events of an automation as server-sent events.
// The persisted records of the latest run are replayed first. The stream then
// follows the in-flight run and ends when it finishes; with ?follow=true it
// stays open for later runs until the client goes away.
func (h *APIHandlers) StreamExecution(c fiber.Ctx) error {
	automationID := c.Params("automationId")

	follow, err := strconv.ParseBool(c.Query("follow", "false"))
	if err != nil {
		return badRequest(c, "follow must be a boolean")
	}

	automation, err := h.automations.Get(c.Context(), automationID)
	if err != nil {
		return handleServiceError(c, err)
	}

	// Params alias the request buffer; the listener outlives this handler.
	automationID = automation.ID

	events := make(chan models.NodeEvent, streamBuffer)

	listenerID := h.execution.AddEventListener(func(event models.NodeEvent) {
		if event.AutomationID != automationID {
			return
		}

		select {
		case events <- event:
		default:
			h.logger.Warn("Dropping event for slow stream consumer", "automation_id", automationID, "node_id", event.NodeID)
		}
	})

	logs, err := h.execution.GetExecutionLogs(c.Context(), automationID)
	if err != nil {
		h.execution.RemoveEventListener(listenerID)

		return handleServiceError(c, err)
	}

	done := h.execution.Done(automationID)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.execution.RemoveEventListener(listenerID)

		for _, record := range logs {
			if _, err := w.WriteString(models.NodeEventFromContext(record).ToSSE()); err != nil {
				return
			}
		}

		if w.Flush() != nil {
			return
		}

		h.followExecution(w, automationID, events, done, follow)
	})
}

func (h *APIHandlers) followExecution(
	w *bufio.Writer,
	automationID string,
	events <-chan models.NodeEvent,
	done <-chan struct{},
	follow bool,
) {
	if done == nil && !follow {
		drain(w, events)

		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-events:
			if write(w, event.ToSSE()) != nil {
				return
			}

			if done == nil {
				done = h.execution.Done(automationID)
			}
		case <-done:
			if drain(w, events) != nil || !follow {
				return
			}

			done = nil
		case <-ticker.C:
			if write(w, ": keepalive\n\n") != nil {
				return
			}
		case <-h.execution.Closed():
			_ = drain(w, events)

			return
		}
	}
}

// drain writes the buffered events without waiting for more.
func drain(w *bufio.Writer, events <-chan models.NodeEvent) error {
	for {
		select {
		case event := <-events:
			if _, err := w.WriteString(event.ToSSE()); err != nil {
				return err
			}
		default:
			return w.Flush()
		}
	}
}

func write(w *bufio.Writer, frame string) error {
	if _, err := w.WriteString(frame); err != nil {
		return err
	}

	return w.Flush()
}
