// Пакет notify доставляет уведомления об изменении потребления:
// подключенным websocket клиентам и в топик AWS SNS.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rtemka/foodoo/pkg/intake"
)

const (
	KindNotification = "intake.notification"
	KindCancel       = "intake.cancel"

	pingInterval = 25 * time.Second
	writeWait    = 5 * time.Second
)

// Event - сообщение, которое получает клиент.
type Event struct {
	Kind         string               `json:"kind"`
	Notification *intake.Notification `json:"notification,omitempty"`
}

type client struct {
	mu   sync.Mutex // websocket.Conn не допускает параллельной записи
	conn *websocket.Conn
}

func (c *client) write(typ int, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(typ, msg)
}

// Hub рассылает события всем подключенным клиентам.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// len возвращает количество подключенных клиентов.
func (h *Hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var errs []error
	for _, c := range clients {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			h.unregister(c)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send рассылает уведомление.
func (h *Hub) Send(_ context.Context, n intake.Notification) error {
	return h.broadcast(Event{Kind: KindNotification, Notification: &n})
}

// Cancel сообщает клиентам, что показанное уведомление устарело.
func (h *Hub) Cancel(context.Context) error {
	return h.broadcast(Event{Kind: KindCancel})
}

// ServeHTTP переводит соединение на websocket и держит его
// до закрытия клиентом.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade: %v", err)
		return
	}
	c := &client{conn: conn}
	h.register(c)
	h.logger.Printf("client connected remote=%s clients=%d", r.RemoteAddr, h.len())

	done := make(chan struct{})
	defer close(done)

	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					h.unregister(c)
					return
				}
			}
		}
	}()

	// цикл чтения завершается, когда клиент закрыл соединение
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}
