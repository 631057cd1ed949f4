// internal/service/inventory/interfaces/stock_feed.go
package interfaces

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"nexus-inventory/internal/pkg/logger"
	"nexus-inventory/internal/service/inventory/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// StockFeed 把库存变化推送给 websocket 订阅者，同时实现 domain.StockObserver。
// 广播队列满时直接丢弃，不会阻塞预占请求。
type StockFeed struct {
	upgrader   websocket.Upgrader
	broadcast  chan domain.StockChanged
	register   chan *feedClient
	unregister chan *feedClient
	clients    atomic.Int64
}

// feedClient 是一个 websocket 连接，sku 为空表示订阅全部 SKU
type feedClient struct {
	conn *websocket.Conn
	send chan domain.StockChanged
	sku  string
}

func NewStockFeed() *StockFeed {
	return &StockFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // 运维看板，允许跨域
		},
		broadcast:  make(chan domain.StockChanged, 1024),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
	}
}

// StockChanged 非阻塞地把变化放入广播队列
func (f *StockFeed) StockChanged(ctx context.Context, change domain.StockChanged) {
	select {
	case f.broadcast <- change:
	default:
		logger.Ctx(ctx).Debug().Str("sku", change.SKU).Msg("Stock feed is saturated, dropping update")
	}
}

// Run 维护所有活跃的连接并负责广播，直到 ctx 结束
func (f *StockFeed) Run(ctx context.Context) error {
	clients := make(map[*feedClient]struct{})
	defer func() {
		for c := range clients {
			close(c.send)
		}
		f.clients.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-f.register:
			clients[c] = struct{}{}
			f.clients.Store(int64(len(clients)))
		case c := <-f.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				f.clients.Store(int64(len(clients)))
			}
		case change := <-f.broadcast:
			for c := range clients {
				if c.sku != "" && c.sku != change.SKU {
					continue
				}
				select {
				case c.send <- change:
				default:
					// 消费太慢的客户端直接断开
					delete(clients, c)
					close(c.send)
					f.clients.Store(int64(len(clients)))
				}
			}
		}
	}
}

// Clients 返回当前连接数
func (f *StockFeed) Clients() int {
	return int(f.clients.Load())
}

// ServeHTTP 把请求升级为 websocket，可以用 ?sku= 只订阅一个 SKU
func (f *StockFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("Failed to upgrade stock feed connection")
		return
	}

	c := &feedClient{conn: conn, send: make(chan domain.StockChanged, 64), sku: r.URL.Query().Get("sku")}
	select {
	case f.register <- c:
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go f.writePump(c)
	go f.readPump(c)
}

// readPump 只处理 pong 和关闭，连接断开时注销客户端
func (f *StockFeed) readPump(c *feedClient) {
	defer func() {
		select {
		case f.unregister <- c:
		case <-time.After(writeWait):
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *StockFeed) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case change, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(change); err != nil {
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
