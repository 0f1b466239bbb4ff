package marketmetrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/stitchery/internal/config"
	dbtest "github.com/smallbiznis/stitchery/internal/testutil"
)

type seedStmt struct {
	sql  string
	args []any
}

func seedMarket(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now().UTC()
	stmts := []seedStmt{
		{`INSERT INTO customers (user_id, email, name, activated_at, created_at, updated_at) VALUES (?, ?, '', ?, ?, ?)`, []any{1, "a@example.com", now, now, now}},
		{`INSERT INTO customers (user_id, email, name, activated_at, created_at, updated_at) VALUES (?, ?, '', ?, ?, ?)`, []any{2, "b@example.com", now, now, now}},
		{`INSERT INTO token_accounts (user_id, balance, created_at, updated_at) VALUES (?, ?, ?, ?)`, []any{1, 7, now, now}},
		{`INSERT INTO token_accounts (user_id, balance, created_at, updated_at) VALUES (?, ?, ?, ?)`, []any{2, 5, now, now}},
		{`INSERT INTO designs (id, user_id, name, status, created_at, updated_at) VALUES (?, ?, ?, 'ready', ?, ?)`, []any{10, 1, "Fox", now, now}},
	}
	for i, status := range []string{"submitted", "submitted", "completed"} {
		stmts = append(stmts, seedStmt{
			`INSERT INTO orders (id, number, user_id, design_id, status, size_cm, tokens_used, requested_formats, created_at, updated_at) VALUES (?, ?, 1, 10, ?, 10, 3, '["dst"]', ?, ?)`,
			[]any{100 + i, fmt.Sprintf("ORD-%d", 100+i), status, now, now},
		})
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt.sql, stmt.args...).Error)
	}
}

func TestRefreshReadsTotals(t *testing.T) {
	db := dbtest.NewDB(t)
	seedMarket(t, db)

	gauges := NewGauges()
	require.NoError(t, gauges.Refresh(context.Background(), db))

	assert.Equal(t, float64(2), testutil.ToFloat64(gauges.customers))
	assert.Equal(t, float64(12), testutil.ToFloat64(gauges.tokensOutstanding))
	assert.Equal(t, float64(2), testutil.ToFloat64(gauges.orders.WithLabelValues("submitted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(gauges.orders.WithLabelValues("completed")))
}

func TestRefreshOnEmptyDatabase(t *testing.T) {
	gauges := NewGauges()
	require.NoError(t, gauges.Refresh(context.Background(), dbtest.NewDB(t)))
	assert.Equal(t, float64(0), testutil.ToFloat64(gauges.tokensOutstanding))
	assert.Error(t, gauges.Refresh(context.Background(), nil))
}

func TestRemoteWritePush(t *testing.T) {
	var (
		got     prompb.WriteRequest
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		raw, err := snappy.Decode(nil, body)
		if err == nil {
			_ = got.Unmarshal(raw)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	db := dbtest.NewDB(t)
	seedMarket(t, db)
	gauges := NewGauges()
	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	worker := NewWorker(db, gauges, pusher, time.Minute, zap.NewNop())
	require.NoError(t, worker.PushOnce(context.Background()))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))

	values := map[string]float64{}
	for _, series := range got.Timeseries {
		name := ""
		status := ""
		for _, label := range series.Labels {
			switch label.Name {
			case "__name__":
				name = label.Value
			case "status":
				status = label.Value
			}
		}
		require.Len(t, series.Samples, 1)
		assert.Equal(t, int64(1_700_000_000_000), series.Samples[0].Timestamp)
		values[name+"/"+status] = series.Samples[0].Value
	}
	assert.Equal(t, float64(2), values["stitchery_customers_total/"])
	assert.Equal(t, float64(12), values["stitchery_tokens_outstanding/"])
	assert.Equal(t, float64(2), values["stitchery_orders/submitted"])
}

func TestRemoteWriteRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gauges := NewGauges()
	gauges.customers.Set(1)
	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), gauges.Registry())
	assert.ErrorContains(t, err, "502")
}

func TestNewPusher(t *testing.T) {
	_, err := NewPusher(config.Config{})
	assert.ErrorIs(t, err, ErrPushDisabled)

	_, err = NewPusher(config.Config{Push: config.MetricsPushConfig{Enabled: true}})
	assert.Error(t, err)

	_, err = NewPusher(config.Config{Push: config.MetricsPushConfig{Enabled: true, Exporter: "statsd", Endpoint: "http://x"}})
	assert.Error(t, err)

	p, err := NewPusher(config.Config{Push: config.MetricsPushConfig{Enabled: true, Endpoint: "http://metrics.local/api/v1/write"}})
	require.NoError(t, err)
	assert.IsType(t, &RemoteWritePusher{}, p)

	p, err = NewPusher(config.Config{AppName: "stitchery", Push: config.MetricsPushConfig{Enabled: true, Exporter: ExporterPushgateway, Endpoint: "http://pgw:9091"}})
	require.NoError(t, err)
	assert.IsType(t, &PushgatewayPusher{}, p)
}
