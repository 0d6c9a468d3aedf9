package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/txdriver/pkg/types"
)

// DefaultBroadcastInterval is how often live metrics are pushed to clients.
const DefaultBroadcastInterval = 250 * time.Millisecond

const writeTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		return originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1"
	},
}

// MetricsSource provides the metrics snapshot streamed to clients.
type MetricsSource interface {
	Metrics() types.RunMetrics
}

// WebSocketServer streams live run metrics to connected clients.
type WebSocketServer struct {
	source   MetricsSource
	logger   *slog.Logger
	interval time.Duration

	clients   map[*websocket.Conn]*sync.Mutex
	clientsMu sync.RWMutex

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(source MetricsSource, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		source:   source,
		logger:   logger,
		interval: DefaultBroadcastInterval,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		done:     make(chan struct{}),
	}
}

// SetInterval changes the broadcast interval. It must be called before Start.
func (ws *WebSocketServer) SetInterval(d time.Duration) {
	if d > 0 {
		ws.interval = d
	}
}

// Handler returns the WebSocket HTTP handler. A snapshot is sent as soon as
// a client connects.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		writeMu := &sync.Mutex{}
		ws.clientsMu.Lock()
		ws.clients[conn] = writeMu
		total := len(ws.clients)
		ws.clientsMu.Unlock()
		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			ws.clientsMu.Unlock()
			conn.Close()
			ws.logger.Debug("WebSocket client disconnected")
		}()

		if data, err := json.Marshal(ws.source.Metrics()); err == nil {
			ws.write(conn, writeMu, data)
		}

		// Reads only detect the client going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Start begins the metrics broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	ws.startOnce.Do(func() { go ws.broadcastLoop() })
}

// Stop stops broadcasting and closes every client connection.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)
		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]*sync.Mutex)
		ws.clientsMu.Unlock()
	})
}

func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			m := ws.source.Metrics()
			// Nothing to stream before the first run.
			if m.Status == types.StatusIdle && m.RunID == "" {
				continue
			}
			ws.broadcastMetrics(m)
		}
	}
}

func (ws *WebSocketServer) broadcastMetrics(m types.RunMetrics) {
	data, err := json.Marshal(m)
	if err != nil {
		ws.logger.Error("Failed to marshal metrics", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	for conn, mu := range ws.clients {
		ws.write(conn, mu, data)
	}
}

// write sends one message. Failed clients are cleaned up by their read loop.
func (ws *WebSocketServer) write(conn *websocket.Conn, mu *sync.Mutex, data []byte) {
	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
