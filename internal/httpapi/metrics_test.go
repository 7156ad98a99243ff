package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"nexrt/pkg/types"
)

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/v1/items/{id}", http.MethodGet, "202"))
	for _, id := range []string{"a", "b", "c"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/items/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/v1/items/{id}", http.MethodGet, "202"))
	if after-before != 3 {
		t.Fatalf("expected 3 requests under the route pattern, got %v", after-before)
	}
}

func TestIncrementBackpressure_DefaultReason(t *testing.T) {
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")) - before; got != 1 {
		t.Fatalf("delta=%v", got)
	}
}

func TestRuntimeCollector(t *testing.T) {
	snap := types.StatsResponse{
		Memory:  types.MemoryStats{PoolCount: 2, BytesInUse: 4096, AllocationCount: 7},
		Plugins: types.PluginStats{FailedLoads: 1},
	}
	c := NewRuntimeCollector(func() types.StatsResponse { return snap })
	expected := `
# HELP nexrt_memory_pools Object pools created
# TYPE nexrt_memory_pools gauge
nexrt_memory_pools 2
# HELP nexrt_memory_allocator_bytes_in_use Bytes outstanding from the general allocator
# TYPE nexrt_memory_allocator_bytes_in_use gauge
nexrt_memory_allocator_bytes_in_use 4096
# HELP nexrt_memory_allocations_total Allocator allocations
# TYPE nexrt_memory_allocations_total counter
nexrt_memory_allocations_total 7
# HELP nexrt_plugin_failed_loads_total Plugin load failures
# TYPE nexrt_plugin_failed_loads_total counter
nexrt_plugin_failed_loads_total 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"nexrt_memory_pools", "nexrt_memory_allocator_bytes_in_use",
		"nexrt_memory_allocations_total", "nexrt_plugin_failed_loads_total"); err != nil {
		t.Fatal(err)
	}
}
