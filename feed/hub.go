package feed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/pos-backend/utils"
)

// Event types
const (
	EventStockIn                = "stock_in"
	EventStockOut               = "stock_out"
	EventStockReleased          = "stock_released"
	EventOrderCreated           = "order_created"
	EventReconciliationRequired = "reconciliation_required"
)

const (
	writeWait = 5 * time.Second
	queueSize = 256
)

type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	At    time.Time   `json:"at"`
}

// Publisher is what the services need from a hub. A nil Publisher is valid
// and means nobody is listening.
type Publisher interface {
	Publish(event string, data interface{})
}

// Hub keeps the websocket clients of one topic and fans messages out to them.
// Published messages go through one queue drained by a single goroutine, so
// clients see them in publish order. Writes happen under the lock so a
// connection never sees concurrent writers.
type Hub struct {
	name    string
	clients map[*websocket.Conn]string // conn -> remote address
	mutex   sync.Mutex

	queue     chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

type outbound struct {
	event   string
	payload []byte
}

func NewHub(name string) *Hub {
	h := &Hub{
		name:    name,
		clients: make(map[*websocket.Conn]string),
		queue:   make(chan outbound, queueSize),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) Register(conn *websocket.Conn, remote string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = remote
	utils.InfoLogger.WithFields(logrus.Fields{"hub": h.name, "remote": remote}).Debug("feed client registered")
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.drop(conn)
}

func (h *Hub) Clients() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Publish queues one event for every client and returns without waiting for
// the writes. The message is encoded right away. When the queue is full the
// event is dropped.
func (h *Hub) Publish(event string, data interface{}) {
	if h == nil {
		return
	}
	payload, err := json.Marshal(Message{Event: event, Data: data, At: time.Now().UTC()})
	if err != nil {
		utils.ErrorLogger.Errorf("Error marshaling %s message: %v", event, err)
		return
	}

	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.queue <- outbound{event: event, payload: payload}:
	default:
		utils.ErrorLogger.WithFields(logrus.Fields{"hub": h.name, "event": event}).Warn("feed queue full, dropping event")
	}
}

func (h *Hub) run() {
	for {
		select {
		case msg := <-h.queue:
			h.broadcast(msg)
		case <-h.done:
			return
		}
	}
}

// broadcast writes one message to every client. Clients whose write fails
// are dropped.
func (h *Hub) broadcast(msg outbound) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for conn, remote := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
			utils.ErrorLogger.WithFields(logrus.Fields{
				"hub":    h.name,
				"remote": remote,
				"event":  msg.event,
			}).Warnf("dropping feed client: %v", err)
			h.drop(conn)
		}
	}
}

// Close stops the queue and disconnects every client. Queued messages that
// were not sent yet are discarded.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.closeOnce.Do(func() { close(h.done) })

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		h.drop(conn)
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
}
