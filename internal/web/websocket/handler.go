package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay below pongWait
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// any origin, matching the CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// peer ties a hub client to its socket. Log events flow one way, hub to
// browser; the read side only keeps the connection alive.
type peer struct {
	client *Client
	conn   *websocket.Conn
	log    logrus.FieldLogger
}

// WebSocketHandler upgrades /ws requests and subscribes them to the hub's
// download log stream.
func WebSocketHandler(hub *Hub, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).Error("Failed to upgrade log stream connection")
			return
		}

		client := newClient(hub, uuid.New().String())
		if !hub.Register(client) {
			// hub already stopped
			conn.Close()
			return
		}

		p := &peer{client: client, conn: conn, log: log.WithField("client_id", client.ID)}
		go p.forward()
		go p.watch()

		p.log.Info("Log stream subscriber connected")
	}
}

// watch drains inbound frames so pongs and close frames are processed, and
// unregisters the client once the socket is gone.
func (p *peer) watch() {
	defer func() {
		p.client.Close()
		p.conn.Close()
		p.log.Info("Log stream subscriber disconnected")
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.extendDeadline()
	p.conn.SetPongHandler(func(string) error {
		p.extendDeadline()
		return nil
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.log.WithError(err).Warn("Log stream read failed")
			}
			return
		}
	}
}

func (p *peer) extendDeadline() {
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// forward writes each queued event as its own text frame and pings on idle.
func (p *peer) forward() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case event, ok := <-p.client.Send:
			if !ok {
				// dropped by the hub
				p.write(websocket.CloseMessage, nil)
				return
			}
			if err := p.write(websocket.TextMessage, event); err != nil {
				p.log.WithError(err).Warn("Failed to forward log event")
				return
			}
		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				p.log.WithError(err).Debug("Keepalive ping failed")
				return
			}
		case <-p.client.closeCh:
			return
		}
	}
}

func (p *peer) write(messageType int, data []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(messageType, data)
}
