package stream

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client wraps one websocket connection.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger
	mu   sync.Mutex
}

func NewClient(conn *websocket.Conn, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{conn: conn, log: log}
}

func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", zap.Error(err))
		_ = c.conn.Close()
		return err
	}
	return nil
}

func (c *Client) Close() {
	_ = c.conn.Close()
}

// Handler upgrades HTTP requests and keeps the connection registered until
// the peer goes away.
func Handler(hub *Hub, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(conn, log)
		hub.Register(client)

		// the read loop only exists to observe the close
		go func() {
			defer hub.Unregister(client)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}
