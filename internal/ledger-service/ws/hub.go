package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
)

// Hub mantém as conexões do painel de risco ao vivo
// subs: surebetID -> conexões inscritas
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[*client]struct{}
}

// client serializa as escritas de uma conexão; gorilla não aceita escritores concorrentes
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS atende GET /ws/risk
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	defer func() {
		h.drop(c)
		_ = conn.Close()
	}()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.SurebetID == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.SurebetID]; !ok {
				h.subs[msg.SurebetID] = make(map[*client]struct{})
			}
			h.subs[msg.SurebetID][c] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			h.remove(msg.SurebetID, c)
			h.mu.Unlock()
		case "ping":
			b, _ := json.Marshal(map[string]string{"type": "pong"})
			_ = c.write(b)
		}
	}
}

// remove exige h.mu travado
func (h *Hub) remove(surebetID string, c *client) {
	if m, ok := h.subs[surebetID]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, surebetID)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.subs {
		h.remove(id, c)
	}
}

// Subscribers informa quantas conexões acompanham a surebet
func (h *Hub) Subscribers(surebetID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[surebetID])
}

// Broadcast envia o risco para os inscritos da surebet
func (h *Hub) Broadcast(update RiskUpdate) {
	update.Type = "risk"

	h.mu.RLock()
	conns := make([]*client, 0, len(h.subs[update.SurebetID]))
	for c := range h.subs[update.SurebetID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, err := json.Marshal(update)
	if err != nil {
		h.log.Warn("ws marshal failed", zap.Error(err))
		return
	}
	for _, c := range conns {
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.String("surebetId", update.SurebetID), zap.Error(err))
		}
	}
}

// PublishRisk permite usar o Hub direto como publisher quando não há Redis
func (h *Hub) PublishRisk(_ context.Context, surebetID string, r domain.Risk) error {
	h.Broadcast(RiskUpdate{SurebetID: surebetID, Risk: r})
	return nil
}
