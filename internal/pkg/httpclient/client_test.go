package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeDiscoverer struct {
	ip   string
	port int
	err  error
}

func (d fakeDiscoverer) DiscoverServiceInstance(string) (string, int, error) {
	return d.ip, d.port, d.err
}

func TestResolvers(t *testing.T) {
	base, err := StaticResolver{"inventory-service": "http://localhost:8082"}.Resolve("inventory-service")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8082", base)

	_, err = StaticResolver{}.Resolve("inventory-service")
	assert.Error(t, err)

	base, err = NacosResolver{Discoverer: fakeDiscoverer{ip: "10.0.0.7", port: 8082}}.Resolve("inventory-service")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.7:8082", base)

	_, err = NacosResolver{Discoverer: fakeDiscoverer{err: errors.New("no healthy instance")}}.Resolve("inventory-service")
	assert.Error(t, err)
}

func TestCallService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		if in["sku"] == "SOLD-OUT" {
			w.WriteHeader(http.StatusConflict)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sku": in["sku"], "path": r.URL.Path, "ct": r.Header.Get("Content-Type")})
	}))
	defer server.Close()

	c := NewClient(noop.NewTracerProvider().Tracer("test"), StaticResolver{"svc": server.URL})

	var out map[string]string
	require.NoError(t, c.CallService(context.Background(), "svc", "/reserve", map[string]string{"sku": "A"}, &out))
	assert.Equal(t, map[string]string{"sku": "A", "path": "/reserve", "ct": "application/json"}, out)

	out = nil
	err := c.CallService(context.Background(), "svc", "/reserve", map[string]string{"sku": "SOLD-OUT"}, &out)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)
	assert.Equal(t, "SOLD-OUT", out["sku"], "body is decoded even for non-2xx responses")
}
