package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"screen-server/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	defaultSendBuf = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler sube la conexion a websocket y la entrega al gateway.
type WSHandler struct {
	ctx        context.Context
	logger     *zap.Logger
	gateway    *realtime.Gateway
	sendBuffer int
	wg         sync.WaitGroup
}

// NewWSHandler recibe el contexto del servidor; al cancelarse se cierran
// todas las conexiones abiertas.
func NewWSHandler(ctx context.Context, logger *zap.Logger, gw *realtime.Gateway, sendBuffer int) *WSHandler {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuf
	}
	return &WSHandler{
		ctx:        ctx,
		logger:     logger,
		gateway:    gw,
		sendBuffer: sendBuffer,
	}
}

// Serve maneja GET /ws.
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan realtime.Event, h.sendBuffer),
		done:   make(chan struct{}),
		logger: h.logger,
	}
	h.logger.Debug("websocket connected", zap.String("handle", client.id), zap.String("remote", c.ClientIP()))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(client)
	}()
}

// Wait bloquea hasta que terminen los pumps de todas las conexiones.
func (h *WSHandler) Wait() {
	h.wg.Wait()
}

func (h *WSHandler) readPump(client *wsClient) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("websocket read loop panic", zap.String("handle", client.id), zap.Any("panic", r))
		}
		// El contexto del servidor puede estar cancelado; la baja se hace igual.
		h.gateway.Disconnect(context.WithoutCancel(h.ctx), client)
		client.close()
	}()

	client.conn.SetReadLimit(maxFrameSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := context.AfterFunc(h.ctx, client.close)
	defer stop()

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("handle", client.id), zap.Error(err))
			}
			return
		}
		h.gateway.Handle(h.ctx, client, raw)
	}
}

// wsClient implementa realtime.Handle sobre una conexion gorilla.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan realtime.Event
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func (c *wsClient) ID() string {
	return c.id
}

// Send encola sin bloquear; con el buffer lleno el evento se descarta.
func (c *wsClient) Send(event realtime.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Debug("websocket write failed", zap.String("handle", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
