// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Resolver 把服务名解析成 "http://host:port" 形式的基础地址
type Resolver interface {
	Resolve(serviceName string) (string, error)
}

// StaticResolver 使用固定的地址表，适用于本地开发和测试
type StaticResolver map[string]string

func (r StaticResolver) Resolve(serviceName string) (string, error) {
	base, ok := r[serviceName]
	if !ok {
		return "", fmt.Errorf("no address configured for service %s", serviceName)
	}
	return base, nil
}

// Discoverer 是 nacos.Client 满足的服务发现接口
type Discoverer interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// NacosResolver 每次调用都向 Nacos 选取一个健康实例
type NacosResolver struct {
	Discoverer Discoverer
}

func (r NacosResolver) Resolve(serviceName string) (string, error) {
	ip, port, err := r.Discoverer.DiscoverServiceInstance(serviceName)
	if err != nil {
		return "", err
	}
	return "http://" + ip + ":" + strconv.Itoa(port), nil
}

// StatusError 表示下游返回了非 2xx 状态码，Body 保留原始响应便于调用方解析业务错误
type StatusError struct {
	Service    string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d", e.Service, e.StatusCode)
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Resolver   Resolver
}

// NewClient 创建一个新的客户端实例。
// http.Client 不设置 Timeout，超时完全由每次请求传入的 context 控制。
func NewClient(tracer trace.Tracer, resolver Resolver) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
		Resolver:   resolver,
	}
}

// CallService 以 JSON 调用下游服务的 POST 接口。
// out 不为 nil 时，无论状态码如何都会尝试把响应体解码进 out。
func (c *Client) CallService(ctx context.Context, serviceName, path string, in, out interface{}) error {
	ctx, span := c.Tracer.Start(ctx, "call-"+serviceName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	base, err := c.Resolver.Resolve(serviceName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", serviceName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	span.SetAttributes(
		attribute.String("http.url", base+path),
		attribute.String("http.method", http.MethodPost),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("read response from %s: %w", serviceName, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response from %s: %w", serviceName, err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Service: serviceName, StatusCode: resp.StatusCode, Body: body}
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, statusErr.Error())
		return statusErr
	}
	return nil
}
