package interfaces

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-inventory/internal/service/inventory/domain"
)

func dialFeed(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStockFeedBroadcastsChanges(t *testing.T) {
	feed := NewStockFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	server := httptest.NewServer(feed)
	defer server.Close()

	all := dialFeed(t, server, "")
	onlyA := dialFeed(t, server, "?sku=A")
	require.Eventually(t, func() bool { return feed.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	feed.StockChanged(ctx, domain.StockChanged{SKU: "B", Stock: 4, State: domain.StateReserved})
	feed.StockChanged(ctx, domain.StockChanged{SKU: "A", Stock: 9, OrderID: "O1", State: domain.StateReleased})

	var got domain.StockChanged
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "B", got.SKU)
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "A", got.SKU)

	require.NoError(t, onlyA.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, onlyA.ReadJSON(&got))
	assert.Equal(t, "A", got.SKU)
	assert.Equal(t, int64(9), got.Stock)
	assert.Equal(t, domain.StateReleased, got.State)

	_ = onlyA.Close()
	assert.Eventually(t, func() bool { return feed.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStockFeedNeverBlocksPublisher(t *testing.T) {
	feed := NewStockFeed()
	done := make(chan struct{})
	go func() {
		// 没有运行 Run，队列很快就满了
		for i := 0; i < 5000; i++ {
			feed.StockChanged(context.Background(), domain.StockChanged{SKU: "A", Stock: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StockChanged blocked")
	}
}
