//go:build integration

package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/kart-commerce/internal/app"
	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/storage/postgres"
)

const (
	testPepper   = "test-pepper-for-integration"
	customerKey  = "integration-customer-key"
	staffKey     = "integration-staff-key"
	testCustomer = "customer-1"
)

var (
	baseURL    string
	httpClient = &http.Client{Timeout: 10 * time.Second}
	mail       *observer.ObservedLogs
)

// Response types are local to keep the tests black-box.

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type productResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Price   string `json:"price"`
	Stock   int    `json:"stock"`
	InStock bool   `json:"inStock"`
}

type errorResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type cartResponse struct {
	ID    string `json:"id"`
	Items []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		InStock   bool   `json:"inStock"`
	} `json:"items"`
	DiscountCode    *string `json:"discountCode"`
	DiscountApplied bool    `json:"discountApplied"`
	Subtotal        string  `json:"subtotal"`
	Discount        string  `json:"discount"`
	Total           string  `json:"total"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	OrderNumber    string  `json:"orderNumber"`
	UserID         string  `json:"userId"`
	Status         string  `json:"status"`
	PaymentStatus  string  `json:"paymentStatus"`
	Subtotal       string  `json:"subtotal"`
	DiscountCode   *string `json:"discountCode"`
	DiscountAmount string  `json:"discountAmount"`
	ShippingCost   string  `json:"shippingCost"`
	Total          string  `json:"total"`
	TrackingNumber string  `json:"trackingNumber"`
	Items          []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		Price     string `json:"price"`
		Subtotal  string `json:"subtotal"`
	} `json:"items"`
}

type historyResponse struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type telemetry struct{}

func (telemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (telemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "kart",
				"POSTGRES_PASSWORD": "kart",
				"POSTGRES_DB":       "kart",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = pg.Terminate(context.Background()) }()

	rd, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start redis: %v\n", err)
		return 1
	}
	defer func() { _ = rd.Terminate(context.Background()) }()

	databaseURL, err := endpoint(ctx, pg, "5432/tcp", "postgres://kart:kart@%s/kart?sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres endpoint: %v\n", err)
		return 1
	}
	redisAddr, err := endpoint(ctx, rd, "6379/tcp", "%s")
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis endpoint: %v\n", err)
		return 1
	}

	if err := seed(ctx, databaseURL); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		return 1
	}

	addr, err := freeAddr()
	if err != nil {
		fmt.Fprintf(os.Stderr, "free addr: %v\n", err)
		return 1
	}
	baseURL = "http://" + addr

	runCtx, stop := context.WithCancel(context.Background())
	lg := zap.NewNop()
	runCtx = zctx.Base(runCtx, lg)

	cfg := &app.Config{
		Addr:         addr,
		DatabaseURL:  databaseURL,
		RedisAddr:    redisAddr,
		APIKeyPepper: testPepper,
		RateLimit:    app.RateLimitConfig{Max: 1000, Window: time.Minute, Shared: true},
		CORS:         app.CORSConfig{Origins: []string{"*"}},
		Graceful:     app.GracefulConfig{ShutdownTimeout: 5 * time.Second},
		Checkout: app.CheckoutConfig{
			StockRetries:      3,
			StockRetryBackoff: 5 * time.Millisecond,
			NumberAttempts:    5,
			LockTimeout:       time.Second,
		},
	}
	cfg.Notify.Queue = "notifications"
	cfg.Notify.MaxRetry = 1

	core, logs := observer.New(zap.InfoLevel)
	mail = logs
	workerCfg := &app.WorkerConfig{
		DatabaseURL:     databaseURL,
		RedisAddr:       redisAddr,
		Concurrency:     2,
		Queue:           "notifications",
		ShutdownTimeout: time.Second,
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- app.Run(runCtx, lg, telemetry{}, cfg) }()
	workerDone := make(chan error, 1)
	go func() { workerDone <- app.RunWorker(runCtx, zap.New(core), workerCfg) }()

	if err := waitReady(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "wait ready: %v\n", err)
		stop()
		return 1
	}

	result := m.Run()

	stop()
	if err := <-serverDone; err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
	}
	<-workerDone
	return result
}

func endpoint(ctx context.Context, c testcontainers.Container, port, format string) (string, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(format, net.JoinHostPort(host, mapped.Port())), nil
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().String(), nil
}

func seed(ctx context.Context, databaseURL string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}

	catalog := postgres.NewCatalog(pool)
	products := []product.Product{
		{ID: "1", Name: "Waffle with Berries", Category: "Waffle", Price: decimal.RequireFromString("6.50"), Stock: 40, Active: true},
		{ID: "8", Name: "Salted Caramel Brownie", Category: "Brownie", Price: decimal.RequireFromString("19.99"), Stock: 5, Active: true},
		{ID: "9", Name: "Last One", Category: "Cake", Price: decimal.RequireFromString("3.00"), Stock: 1, Active: true},
	}
	for _, p := range products {
		if err := catalog.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}

	now := time.Now()
	if err := catalog.UpsertDiscount(ctx, discount.Discount{
		Code:        "SAVE10",
		Type:        discount.TypePercentage,
		Amount:      decimal.NewFromInt(10),
		StartsAt:    now.Add(-time.Hour),
		EndsAt:      now.Add(24 * time.Hour),
		MinPurchase: decimal.NewFromInt(20),
		Active:      true,
	}); err != nil {
		return err
	}

	for _, k := range []auth.APIKeyInfo{
		{ID: "customer", KeyHash: auth.HashKey(customerKey, []byte(testPepper)), UserID: testCustomer, Scopes: []string{}},
		{ID: "staff", KeyHash: auth.HashKey(staffKey, []byte(testPepper)), UserID: "staff", Scopes: []string{auth.ScopeManageOrders}},
	} {
		if err := catalog.UpsertAPIKey(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func waitReady(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			resp, err := httpClient.Get(baseURL + "/readyz")
			if err != nil {
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// HTTP helpers.

func do(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("api_key", apiKey)
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		resp := do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "ok", decodeJSON[healthResponse](t, resp).Status)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "1000", resp.Header.Get("X-RateLimit-Limit"))

	resp = do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, decodeJSON[errorResponse](t, resp).Code)
}

func TestProducts(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := decodeJSON[[]productResponse](t, resp)
	require.GreaterOrEqual(t, len(products), 3)

	resp = do(t, http.MethodGet, "/api/products/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeJSON[productResponse](t, resp)
	assert.Equal(t, "6.50", p.Price)
	assert.True(t, p.InStock)
}

func TestPlaceOrder(t *testing.T) {
	t.Run("NoAuth", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/orders", "", map[string]any{
			"items": []map[string]any{{"productId": "1", "quantity": 1}},
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
	t.Run("Empty", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/orders", customerKey, map[string]any{"items": []any{}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
	t.Run("UnknownProduct", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/orders", customerKey, map[string]any{
			"items": []map[string]any{{"productId": "999", "quantity": 1}},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
	t.Run("InvalidDiscount", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/orders", customerKey, map[string]any{
			"items":        []map[string]any{{"productId": "1", "quantity": 1}},
			"discountCode": "NOPE",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
	t.Run("InsufficientStock", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/orders", customerKey, map[string]any{
			"items": []map[string]any{{"productId": "1", "quantity": 1000}},
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		body := decodeJSON[errorResponse](t, resp)
		assert.Equal(t, "1", body.Details["productId"])
		assert.Equal(t, float64(1000), body.Details["requested"])
	})
	t.Run("WithDiscount", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/orders", customerKey, map[string]any{
			"items":        []map[string]any{{"productId": "8", "quantity": 3}},
			"discountCode": "save10",
			"shippingCost": "4.50",
			"email":        "buyer@example.com",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		o := decodeJSON[orderResponse](t, resp)
		assert.Equal(t, "59.97", o.Subtotal)
		assert.Equal(t, "6.00", o.DiscountAmount)
		assert.Equal(t, "58.47", o.Total)
		assert.Equal(t, "pending", o.Status)
		assert.Equal(t, "pending", o.PaymentStatus)
		assert.Equal(t, testCustomer, o.UserID)
		require.Len(t, o.Items, 1)
		assert.Equal(t, "19.99", o.Items[0].Price)

		resp = do(t, http.MethodGet, "/api/products/8", "", nil)
		assert.Equal(t, 2, decodeJSON[productResponse](t, resp).Stock)

		// The worker mails the order confirmation.
		require.Eventually(t, func() bool {
			return mail.FilterMessage("Mail").FilterField(zap.String("to", "buyer@example.com")).Len() > 0
		}, 30*time.Second, 100*time.Millisecond)
	})
}

func TestConcurrentLastUnit(t *testing.T) {
	const buyers = 5
	codes := make(chan int, buyers)
	for range buyers {
		go func() {
			body, _ := json.Marshal(map[string]any{
				"items": []map[string]any{{"productId": "9", "quantity": 1}},
			})
			req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/orders", bytes.NewReader(body))
			req.Header.Set("api_key", customerKey)
			resp, err := httpClient.Do(req)
			if err != nil {
				codes <- 0
				return
			}
			_ = resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}

	counts := map[int]int{}
	for range buyers {
		counts[<-codes]++
	}
	assert.Equal(t, 1, counts[http.StatusCreated])
	assert.Equal(t, buyers-1, counts[http.StatusConflict])
}

func TestCartCheckout(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/cart/items", customerKey, map[string]any{"productId": "1", "quantity": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, "/api/cart/discount", customerKey, map[string]any{"code": "SAVE10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decodeJSON[cartResponse](t, resp)
	assert.Equal(t, "26.00", c.Subtotal)
	assert.Equal(t, "2.60", c.Discount)
	assert.Equal(t, "23.40", c.Total)
	assert.True(t, c.DiscountApplied)

	resp = do(t, http.MethodPost, "/api/cart/checkout", customerKey, map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decodeJSON[orderResponse](t, resp)
	assert.Equal(t, "23.40", o.Total)
	require.NotNil(t, o.DiscountCode)
	assert.Equal(t, "SAVE10", *o.DiscountCode)

	resp = do(t, http.MethodGet, "/api/cart", customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeJSON[cartResponse](t, resp).Items)
}

func TestOrderLifecycle(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/orders", customerKey, map[string]any{
		"items": []map[string]any{{"productId": "1", "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decodeJSON[orderResponse](t, resp)

	path := "/api/orders/" + o.ID
	resp = do(t, http.MethodGet, path, customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, path+"/status", customerKey, map[string]any{"status": "processing"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodPost, path+"/status", staffKey, map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, path+"/status", staffKey, map[string]any{"status": "processing", "notes": "packing"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPost, path+"/status", staffKey, map[string]any{
		"status": "shipped", "trackingNumber": "TRK-1", "estimatedDelivery": "2030-01-02",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "TRK-1", decodeJSON[orderResponse](t, resp).TrackingNumber)

	resp = do(t, http.MethodPost, path+"/payment-status", staffKey, map[string]any{"paymentStatus": "completed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", decodeJSON[orderResponse](t, resp).PaymentStatus)

	resp = do(t, http.MethodGet, path+"/history", customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeJSON[[]historyResponse](t, resp)
	require.Len(t, history, 3)
	assert.Equal(t, "shipped", history[0].Status)
	assert.Equal(t, "pending", history[2].Status)

	// Staff see orders of every customer.
	resp = do(t, http.MethodGet, path, staffKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
