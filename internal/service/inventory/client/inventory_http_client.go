// internal/service/inventory/client/inventory_http_client.go
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"nexus-inventory/internal/pkg/httpclient"
	"nexus-inventory/internal/service/inventory/domain"
)

const (
	InventoryService = "inventory-service"

	reserveBatchPath = "/reserve/batch"
	releasePath      = "/release"
	commitPath       = "/commit"
)

type batchReserveRequest struct {
	OrderID    string               `json:"orderId"`
	Items      []domain.ReserveItem `json:"items"`
	TTLSeconds int64                `json:"ttlSeconds,omitempty"`
}

type holdRequest struct {
	OrderID string `json:"orderId"`
	SKU     string `json:"sku"`
}

// InventoryHTTPClient 供下单流程调用库存服务，预占走批量接口，要么全部成功要么全部不生效
type InventoryHTTPClient struct {
	client *httpclient.Client
}

func NewInventoryHTTPClient(client *httpclient.Client) *InventoryHTTPClient {
	return &InventoryHTTPClient{client: client}
}

// ReserveStock 为订单预占全部商品。ttl 为 0 时由库存服务使用默认值。
// 售罄时返回 *domain.InsufficientStockError，result 中带有每个 SKU 的可用库存。
func (c *InventoryHTTPClient) ReserveStock(ctx context.Context, orderID string, items map[string]int64, ttl time.Duration) (domain.BatchReserveResult, error) {
	req := batchReserveRequest{OrderID: orderID, TTLSeconds: int64(ttl / time.Second)}
	for sku, qty := range items {
		req.Items = append(req.Items, domain.ReserveItem{SKU: sku, Quantity: qty})
	}
	sort.Slice(req.Items, func(i, j int) bool { return req.Items[i].SKU < req.Items[j].SKU })

	var result domain.BatchReserveResult
	err := c.client.CallService(ctx, InventoryService, reserveBatchPath, req, &result)
	if err == nil {
		return result, nil
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusConflict || statusErr.StatusCode == http.StatusUnprocessableEntity) {
		for _, item := range result.Items {
			if item.Reason == domain.ReasonNone {
				continue
			}
			return result, domain.ReserveResult{
				OrderID: orderID, SKU: item.SKU, Requested: item.Requested,
				Stock: item.Available, Reason: item.Reason,
			}.Err()
		}
	}
	return result, translate(err)
}

// ReleaseStock 是 ReserveStock 的补偿操作。单个 SKU 失败不会中断其他 SKU 的释放
func (c *InventoryHTTPClient) ReleaseStock(ctx context.Context, orderID string, skus []string) error {
	return c.forEach(ctx, releasePath, orderID, skus, func(ctx context.Context, path string, req holdRequest) error {
		var res domain.ReleaseResult
		return c.client.CallService(ctx, InventoryService, path, req, &res)
	})
}

// CommitStock 在支付成功后确认预占。预占已过期时库存服务返回 committed=false，这里视为失败
func (c *InventoryHTTPClient) CommitStock(ctx context.Context, orderID string, skus []string) error {
	return c.forEach(ctx, commitPath, orderID, skus, func(ctx context.Context, path string, req holdRequest) error {
		var res domain.CommitResult
		if err := c.client.CallService(ctx, InventoryService, path, req, &res); err != nil {
			return err
		}
		if !res.Committed {
			return fmt.Errorf("%w: order %s sku %s", domain.ErrReservationNotFound, req.OrderID, req.SKU)
		}
		return nil
	})
}

func (c *InventoryHTTPClient) forEach(ctx context.Context, path, orderID string, skus []string, call func(context.Context, string, holdRequest) error) error {
	var errs []error
	for _, sku := range skus {
		if err := call(ctx, path, holdRequest{OrderID: orderID, SKU: sku}); err != nil {
			errs = append(errs, fmt.Errorf("sku %s: %w", sku, translate(err)))
		}
	}
	return errors.Join(errs...)
}

// translate 把 HTTP 状态码还原成领域错误，方便调用方用 errors.Is 判断是否可以重试
func translate(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch statusErr.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, statusErr.Body)
	case http.StatusServiceUnavailable:
		return domain.NewStoreError("call "+statusErr.Service, statusErr)
	default:
		return err
	}
}
