package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/logging"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hello is the first frame every subscriber receives.
type Hello struct {
	Type         string `json:"type"`
	SubscriberID string `json:"subscriber_id"`
}

// StreamFilter narrows a subscription. Zero fields match everything.
type StreamFilter struct {
	MatchID uint64
	Address string
}

// Match reports whether ev passes f.
func (f StreamFilter) Match(ev events.Event) bool {
	if f.MatchID != 0 {
		if id, ok := numeric(ev.Data["match_id"]); !ok || id != f.MatchID {
			return false
		}
	}
	if f.Address != "" {
		found := false
		for _, v := range ev.Data {
			switch x := v.(type) {
			case string:
				found = x == f.Address
			case []string:
				for _, s := range x {
					if s == f.Address {
						found = true
					}
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func numeric(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case float64:
		return uint64(x), true
	case json.Number:
		n, err := strconv.ParseUint(x.String(), 10, 64)
		return n, err == nil
	}
	return 0, false
}

type subscriber struct {
	id     string
	filter StreamFilter
	send   chan []byte
	once   sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.send) }) }

// Hub fans committed game events out to websocket subscribers. A subscriber
// whose buffer is full is disconnected rather than allowed to stall block
// production.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu   sync.Mutex
	subs map[string]*subscriber

	unsubscribe func()
}

// NewHub creates a Hub fed by emitter.
func NewHub(emitter *events.Emitter, log *zap.Logger) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:  logging.OrNop(log).Named("ws"),
		subs: make(map[string]*subscriber),
	}
	h.unsubscribe = emitter.SubscribeAll(h.publish)
	return h
}

// Close detaches the hub from the emitter and drops every subscriber.
func (h *Hub) Close() {
	h.unsubscribe()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		s.close()
		delete(h.subs, id)
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) publish(ev events.Event) {
	if !ev.Type.Domain() {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		if !s.filter.Match(ev) {
			continue
		}
		select {
		case s.send <- data:
		default:
			h.log.Warn("dropping slow subscriber", zap.String("subscriber", id))
			s.close()
			delete(h.subs, id)
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.subs[s.id]; ok && cur == s {
		delete(h.subs, s.id)
		s.close()
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. Query parameters match_id and address set the filter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade", zap.Error(err))
		return
	}

	s := &subscriber{id: uuid.NewString(), filter: filter, send: make(chan []byte, sendBuffer)}
	hello, _ := json.Marshal(Hello{Type: "hello", SubscriberID: s.id})
	s.send <- hello

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	h.log.Debug("subscriber connected", zap.String("subscriber", s.id),
		zap.Uint64("match_id", filter.MatchID), zap.String("address", filter.Address))

	go h.writeLoop(conn, s)
	h.readLoop(conn, s)
}

func parseFilter(r *http.Request) (StreamFilter, error) {
	var f StreamFilter
	q := r.URL.Query()
	if v := q.Get("match_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("match_id: %w", err)
		}
		f.MatchID = id
	}
	f.Address = q.Get("address")
	return f, nil
}

// readLoop discards client frames and exists to notice disconnects.
func (h *Hub) readLoop(conn *websocket.Conn, s *subscriber) {
	defer func() {
		h.remove(s)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
