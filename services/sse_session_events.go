package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const sseKeepAlive = 15 * time.Second

// StreamSessionEvents streams a session's events as Server-Sent Events. The stream
// opens with a snapshot of the current record and ends after a terminal event.
func (s *SessionService) StreamSessionEvents(b *Broadcaster) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Params("id")
		viewer, _ := c.Locals("user_id").(string)

		sess, err := s.Get(c.UserContext(), sessionID)
		if err != nil {
			return RespondError(c, err)
		}
		if viewer != "" && sess.SlotOf(viewer) < 0 {
			return RespondError(c, newError(KindNotParticipant, "not a participant of session %s", sessionID))
		}

		// SSE headers
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		events, unsubscribe := b.Subscribe(sessionID)
		snapshot, _ := json.Marshal(viewRecord(sess, viewer))
		terminal := sess.Phase.Terminal()

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer unsubscribe()
			ticker := time.NewTicker(sseKeepAlive)
			defer ticker.Stop()

			fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", snapshot)
			if err := w.Flush(); err != nil || terminal {
				return
			}

			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					payload, err := json.Marshal(ev)
					if err != nil {
						zap.L().Error("[SSE] marshal event", zap.Error(err))
						continue
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
					if err := w.Flush(); err != nil {
						// Client disconnected
						return
					}
					if ev.Phase.Terminal() {
						return
					}

				case <-ticker.C:
					// comment line keeps proxies from closing the stream
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
				}
			}
		})
		return nil
	}
}
