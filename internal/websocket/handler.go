package websocket

import (
	"net/http"

	"PairChat/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// GET /ws. Every upgraded connection gets a fresh opaque id.
func ServeWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			utils.Log.Warn("upgrade failed", "remote", c.Request.RemoteAddr, "err", err)
			return
		}

		client := &Client{
			ID:   uuid.NewString(),
			Conn: conn,
			Send: make(chan OutgoingMessage, sendBuffer),
			Hub:  hub,
		}

		if !hub.enqueueRegister(client) {
			utils.Log.Warn("hub closed, rejecting connection", "remote", c.Request.RemoteAddr)
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
