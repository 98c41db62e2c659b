package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Client 一条 SSE 连接
type Client struct {
	id     string
	userID string
	ch     chan string
	done   chan struct{}
}

// Hub 按用户分组的进度事件广播器。
// Worker 侧发布任务进度，Server 侧的 SSE 连接按用户订阅
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	byUser   map[string]map[string]bool // userID -> clientID set
	interval time.Duration
	retryMs  int
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{
		clients:  make(map[string]*Client),
		byUser:   make(map[string]map[string]bool),
		interval: interval,
		retryMs:  5000,
	}
}

func (h *Hub) addClient(id, userID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &Client{id: id, userID: userID, ch: make(chan string, 64), done: make(chan struct{})}
	h.clients[id] = c
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]bool)
	}
	h.byUser[userID][id] = true
	return c
}

func (h *Hub) removeClient(id string) {
	h.mu.Lock()
	if c, ok := h.clients[id]; ok {
		close(c.done)
		if set := h.byUser[c.userID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(h.byUser, c.userID)
			}
		}
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

// PublishJSON 向某个用户的所有连接推送一条 JSON 事件，连接写满则丢弃
func (h *Hub) PublishJSON(userID string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	msg := formatData(string(b))
	h.mu.RLock()
	for id := range h.byUser[userID] {
		if c := h.clients[id]; c != nil {
			select {
			case c.ch <- msg:
			default:
			}
		}
	}
	h.mu.RUnlock()
}

// Broadcast 向所有连接推送
func (h *Hub) Broadcast(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	msg := formatData(string(b))
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.ch <- msg:
		default:
		}
	}
	h.mu.RUnlock()
}

func formatData(s string) string { return fmt.Sprintf("data: %s\n\n", s) }

// Serve 将请求升级为 SSE 长连接，直到客户端断开
func (h *Hub) Serve(c *gin.Context, clientID, userID string) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	client := h.addClient(clientID, userID)
	defer h.removeClient(clientID)

	ping := time.NewTicker(h.interval)
	defer ping.Stop()
	flusher.Flush()

	for {
		select {
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-client.ch:
			c.Writer.Write([]byte(msg))
			flusher.Flush()
		}
	}
}
