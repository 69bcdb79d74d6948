package gateway

import (
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/server/internal/hub"
	"github.com/tickerhub/tickerhub/cmd/server/internal/metrics"
	"github.com/tickerhub/tickerhub/cmd/server/internal/protocol"
)

const (
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// ClientAdapter pumps one raw websocket connection: inbound frames
// are parsed and handed to the hub, outbound payloads are drained
// from a buffered channel so the hub never blocks on a slow socket.
type ClientAdapter struct {
	conn    net.Conn
	hub     *hub.Hub
	send    chan []byte
	logger  *zap.Logger
	metrics *metrics.Metrics

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger, m *metrics.Metrics) *ClientAdapter {
	return &ClientAdapter{
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, sendBufferSize),
		logger:     logger,
		metrics:    m,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *ClientAdapter) Start() {
	c.metrics.ConnectionsActive.Inc()
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.conn.RemoteAddr().String() }
func (c *ClientAdapter) Close()     { close(c.send) } // Only close channel, let writePump close conn

func (c *ClientAdapter) SendBytes(b []byte) {
	select {
	case c.send <- b:
	default:
		// Drop message if buffer full (Backpressure)
		c.metrics.MessagesDropped.Inc()
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.metrics.ConnectionsActive.Dec()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		if header.OpCode == ws.OpClose {
			break
		}
		if header.OpCode == ws.OpPong {
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			continue
		}

		if header.OpCode == ws.OpText {
			var msg protocol.ClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				// Malformed input is dropped without a reply; the
				// connection stays open.
				c.metrics.MessagesIgnored.WithLabelValues(metrics.ReasonMalformed).Inc()
				continue
			}

			c.hub.HandleMessage(c, msg)
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
