package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/hub"
)

// handleEvents streams hub updates for the subscription key in the key
// query parameter. The sink is unsubscribed when the client goes away or a
// write fails.
func handleEvents(h hub.Hub, keepalive time.Duration, buffer int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := hub.ParseKey(c.Query("key"))
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		sink := hub.NewChanSink(buffer)
		h.Subscribe(key, sink)
		defer func() {
			h.Unsubscribe(key, sink)
			sink.Close()
		}()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		connected, err := hub.Encode(hub.Connected(key))
		if err != nil {
			log.Printf("server: encode connected frame: %v", err)
			return
		}
		if err := writeFrame(c.Writer, connected); err != nil {
			return
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-sink.Frames():
				if !ok {
					// Dropped by the hub for falling behind.
					return
				}
				if err := writeFrame(c.Writer, frame); err != nil {
					return
				}
			case <-ticker.C:
				if err := writeFrame(c.Writer, hub.KeepaliveFrame); err != nil {
					return
				}
			}
		}
	}
}

// writeFrame writes one pre-encoded frame and flushes it to the client.
func writeFrame(w gin.ResponseWriter, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	w.Flush()
	return nil
}
