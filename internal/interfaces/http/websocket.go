package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/interfaces/stdio"
	"github.com/vertexmcp/vertexmcp/pkg/safego"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket upgrades the connection and speaks the same request/response
// protocol as the byte-stream interface, one JSON object per text frame.
func (h *handlers) WebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ws := &wsSession{conn: conn, svc: h.svc, logger: h.logger}
	ws.run(c.Request.Context())
}

type wsSession struct {
	conn   *websocket.Conn
	svc    stdio.Service
	logger *zap.Logger

	writeMu sync.Mutex
}

func (ws *wsSession) run(ctx context.Context) {
	defer ws.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.logger.Debug("WebSocket read ended", zap.Error(err))
			}
			break
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}

		var req stdio.Request
		if err := json.Unmarshal(data, &req); err != nil {
			ws.writeError(nil, "invalid request: "+err.Error())
			continue
		}

		wg.Add(1)
		safego.Go(ws.logger, "ws-request", func() {
			defer wg.Done()
			ws.dispatch(ctx, &req)
		})
	}
	wg.Wait()
}

func (ws *wsSession) dispatch(ctx context.Context, req *stdio.Request) {
	text, err := stdio.Handle(ctx, ws.svc, req)
	if err != nil {
		ws.writeError(req.ID, err.Error())
		return
	}
	ws.write(&stdio.Response{
		ID:      req.ID,
		Content: []stdio.ContentItem{{Type: "text", Text: text}},
	})
}

func (ws *wsSession) write(resp *stdio.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		ws.logger.Error("Cannot marshal response", zap.Error(err))
		return
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.logger.Debug("WebSocket write failed", zap.Error(err))
	}
}

func (ws *wsSession) writeError(id json.RawMessage, message string) {
	ws.write(&stdio.Response{
		ID:      id,
		Content: []stdio.ContentItem{{Type: "text", Text: message}},
		IsError: true,
	})
}
