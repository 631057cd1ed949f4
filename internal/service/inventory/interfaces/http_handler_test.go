package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-inventory/internal/service/inventory/application"
	"nexus-inventory/internal/service/inventory/domain"
)

type fakeUseCases struct {
	stock    map[string]int64
	err      error
	released []application.HoldRequest
}

func (f *fakeUseCases) Reserve(_ context.Context, req application.ReserveRequest) (domain.ReserveResult, error) {
	if f.err != nil {
		return domain.ReserveResult{}, f.err
	}
	res := domain.ReserveResult{OrderID: req.OrderID, SKU: req.SKU, Requested: req.Quantity}
	if req.Quantity <= 0 {
		return res, domain.ErrInvalidArgument
	}
	if f.stock[req.SKU] < req.Quantity {
		res.Stock = f.stock[req.SKU]
		res.Reason = domain.ReasonInsufficientStock
		return res, nil
	}
	f.stock[req.SKU] -= req.Quantity
	res.Reserved = true
	res.Stock = f.stock[req.SKU]
	return res, nil
}

func (f *fakeUseCases) BatchReserve(_ context.Context, req application.BatchReserveRequest) (domain.BatchReserveResult, error) {
	res := domain.BatchReserveResult{OrderID: req.OrderID, AllReserved: true}
	for _, item := range req.Items {
		r := domain.BatchItemResult{SKU: item.SKU, Requested: item.Quantity, Available: f.stock[item.SKU], Reserved: true}
		if f.stock[item.SKU] < item.Quantity {
			r.Reserved = false
			r.Reason = domain.ReasonInsufficientStock
			res.AllReserved = false
		}
		res.Items = append(res.Items, r)
	}
	return res, nil
}

func (f *fakeUseCases) Release(_ context.Context, req application.HoldRequest) (domain.ReleaseResult, error) {
	f.released = append(f.released, req)
	return domain.ReleaseResult{OrderID: req.OrderID, SKU: req.SKU}, nil
}

func (f *fakeUseCases) Commit(_ context.Context, req application.HoldRequest) (domain.CommitResult, error) {
	return domain.CommitResult{Committed: true, OrderID: req.OrderID, SKU: req.SKU, Quantity: 1, SaleID: "sale-1"}, nil
}

func (f *fakeUseCases) GetStock(_ context.Context, sku string) (application.StockResponse, error) {
	if f.err != nil {
		return application.StockResponse{}, f.err
	}
	return application.StockResponse{SKU: sku, Stock: f.stock[sku]}, nil
}

func (f *fakeUseCases) ListReservations(context.Context, string) ([]domain.Hold, error) {
	return nil, nil
}

func (f *fakeUseCases) SeedStock(_ context.Context, req application.SeedStockRequest) (application.SeedStockResponse, error) {
	f.stock[req.SKU] = req.Quantity
	return application.SeedStockResponse{SKU: req.SKU, Persisted: req.Quantity, Available: req.Quantity}, nil
}

func newTestMux(svc ReservationUseCases) *http.ServeMux {
	mux := http.NewServeMux()
	NewInventoryHandler(svc, http.NotFoundHandler(), nil).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestReserveEndpoint(t *testing.T) {
	mux := newTestMux(&fakeUseCases{stock: map[string]int64{"SKU-1": 10, "SKU-2": 2}})

	rec := do(t, mux, http.MethodPost, "/reserve", `{"orderId":"O1","sku":"SKU-1","qty":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok domain.ReserveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.True(t, ok.Reserved)
	assert.Equal(t, int64(7), ok.Stock)

	rec = do(t, mux, http.MethodPost, "/reserve", `{"orderId":"O1","sku":"SKU-2","qty":5}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var sold domain.ReserveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sold))
	assert.Equal(t, domain.ReasonInsufficientStock, sold.Reason)
	assert.Equal(t, int64(2), sold.Stock)

	rec = do(t, mux, http.MethodPost, "/reserve", `{"orderId":"O1","sku":"SKU-1","qty":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/reserve", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodGet, "/reserve", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBatchReserveEndpointReportsConflict(t *testing.T) {
	mux := newTestMux(&fakeUseCases{stock: map[string]int64{"A": 5, "B": 0}})

	rec := do(t, mux, http.MethodPost, "/reserve/batch", `{"orderId":"O1","items":[{"sku":"A","qty":1},{"sku":"B","qty":1}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var res domain.BatchReserveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.AllReserved)
	assert.Equal(t, domain.ReasonInsufficientStock, res.Items[1].Reason)
}

func TestStoreUnavailableMapsTo503(t *testing.T) {
	mux := newTestMux(&fakeUseCases{err: domain.NewStoreError("get stock", assert.AnError)})

	rec := do(t, mux, http.MethodGet, "/stock?sku=SKU-1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "try again")
}

func TestReleaseCommitAndSeedEndpoints(t *testing.T) {
	svc := &fakeUseCases{stock: map[string]int64{}}
	mux := newTestMux(svc)

	rec := do(t, mux, http.MethodPost, "/admin/stock", `{"sku":"SKU-1","qty":12}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(12), svc.stock["SKU-1"])

	rec = do(t, mux, http.MethodPost, "/release", `{"orderId":"O1","sku":"SKU-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"released":false,"orderId":"O1","sku":"SKU-1","quantity":0,"stock":0}`, rec.Body.String())
	assert.Equal(t, []application.HoldRequest{{OrderID: "O1", SKU: "SKU-1"}}, svc.released)

	rec = do(t, mux, http.MethodPost, "/commit", `{"orderId":"O1","sku":"SKU-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"saleId":"sale-1"`)

	rec = do(t, mux, http.MethodGet, "/reservations?orderId=O1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"orderId":"O1","reservations":[]}`, rec.Body.String())

	rec = do(t, mux, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeJobs struct {
	err error
}

func (f *fakeJobs) TriggerReconcile(context.Context) (application.ReconcileReport, error) {
	return application.ReconcileReport{RunID: "run-1", Checked: 3, Discrepancies: 1}, f.err
}

func (f *fakeJobs) TriggerSweep(context.Context) (application.CompensationReport, error) {
	return application.CompensationReport{Scanned: 2, Compensated: 2, Restored: 5}, f.err
}

func (f *fakeJobs) Discrepancies(_ context.Context, sku string, limit int) ([]domain.StockDiscrepancyDetected, error) {
	return []domain.StockDiscrepancyDetected{{SKU: sku, Delta: int64(limit)}}, nil
}

func TestAdminEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	NewAdminHandler(&fakeJobs{}, nil).RegisterRoutes(mux)

	rec := do(t, mux, http.MethodPost, "/admin/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report application.ReconcileReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "run-1", report.RunID)

	rec = do(t, mux, http.MethodPost, "/admin/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"restored":5`)

	rec = do(t, mux, http.MethodGet, "/admin/discrepancies?sku=SKU-1&limit=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []domain.StockDiscrepancyDetected
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "SKU-1", events[0].SKU)
	assert.Equal(t, int64(7), events[0].Delta)
}

func TestAdminJobInProgressMapsTo409(t *testing.T) {
	mux := http.NewServeMux()
	NewAdminHandler(&fakeJobs{err: application.ErrJobInProgress}, nil).RegisterRoutes(mux)

	rec := do(t, mux, http.MethodPost, "/admin/reconcile", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
