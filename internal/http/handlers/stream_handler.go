// README: Websocket position stream; each frame is a fix fed to the driver's tracker.
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridecore/internal/modules/tracking"
	"ridecore/internal/types"
)

const (
	streamReadLimit = 1 << 12
	streamPongWait  = 60 * time.Second
	streamWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type StreamHandler struct {
	tracking *tracking.Manager
}

func NewStreamHandler(mgr *tracking.Manager) *StreamHandler {
	return &StreamHandler{tracking: mgr}
}

type streamAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Stream upgrades the connection and reports every received fix. The driver
// goes offline when the socket closes.
func (h *StreamHandler) Stream(c *gin.Context) {
	id, ok := callerDriver(c)
	if !ok {
		return
	}
	if err := h.tracking.GoOnline(c.Request.Context(), id); err != nil {
		writeRideError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ws] upgrade driver %s: %v", id, err)
		h.offline(id)
		return
	}
	defer func() {
		conn.Close()
		h.offline(id)
		log.Printf("[ws] driver %s disconnected", id)
	}()
	log.Printf("[ws] driver %s connected", id)

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		var req locationReq
		if err := conn.ReadJSON(&req); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				log.Printf("[ws] read driver %s: %v", id, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))

		ack := streamAck{OK: true}
		if fix, ok := req.fix(); !ok {
			ack = streamAck{Error: "lat and lng are required"}
		} else if err := h.tracking.Report(id, fix); err != nil {
			ack = streamAck{Error: err.Error()}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(ack); err != nil {
			log.Printf("[ws] write driver %s: %v", id, err)
			return
		}
	}
}

func (h *StreamHandler) offline(id types.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), streamWriteWait)
	defer cancel()
	if err := h.tracking.GoOffline(ctx, id); err != nil {
		log.Printf("[ws] offline driver %s: %v", id, err)
	}
}
