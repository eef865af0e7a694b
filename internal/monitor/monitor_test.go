package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ExportsEveryCounter(t *testing.T) {
	m := New()
	m.Report.Queue.Sent.Add(3)
	m.Report.Queue.Pending.Store(2)
	m.Report.Sync.Online.Store(true)

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(m.GetPrometheusCollector()))

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		metric := family.GetMetric()[0]
		switch {
		case metric.GetCounter() != nil:
			values[family.GetName()] = metric.GetCounter().GetValue()
		case metric.GetGauge() != nil:
			values[family.GetName()] = metric.GetGauge().GetValue()
		}
	}

	assert.Len(t, values, 17)
	assert.Equal(t, 3.0, values["pollsync_queue_sent_total"])
	assert.Equal(t, 2.0, values["pollsync_queue_pending"])
	assert.Equal(t, 1.0, values["pollsync_online"])
}

func TestCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(New().GetPrometheusCollector())
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestMonitor_Handlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	router := gin.New()
	router.GET("/health", m.OnGetHealth)
	router.GET("/state", m.OnGetState)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no session started yet")

	m.Report.Run.Sessions.Inc()
	m.Report.Queue.Failed.Add(4)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state struct {
		Queue struct {
			Failed uint64 `json:"failed"`
		} `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, uint64(4), state.Queue.Failed)
}
