package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 15 * time.Second

// Events streams the room as server-sent events: one "room" event right
// away and one after every change, with comment heartbeats in between.
// The stream ends when the user leaves the room.
// GET /room/:id/events
func (h *Handlers) Events(c *gin.Context) {
	st, ok := h.member(c)
	if !ok {
		return
	}
	chatID := c.Param("id")

	changes, stop := st.Subscribe()
	defer stop()

	w := c.Writer
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func() bool {
		data, err := json.Marshal(roomView(st))
		if err != nil {
			h.log.Error().Err(err).Msg("failed to encode room")
			return false
		}
		fmt.Fprint(w, "event: room\n")       //nolint:errcheck
		fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
		if err := rc.Flush(); err != nil {
			h.log.Debug().Err(err).Msg("could not flush event stream")
			return false
		}
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if !st.InChat(chatID) {
				fmt.Fprint(w, "event: left\ndata: {}\n\n") //nolint:errcheck
				_ = rc.Flush()
				return
			}
			if !send() {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": \n\n") //nolint:errcheck
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
