package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// importRoutePrefix 下的路由承载分片上传与阶段推进，单独按路由统计。
const importRoutePrefix = "/imports/"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gramport_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gramport_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gramport_http_in_flight_requests",
		Help: "Number of HTTP requests being served",
	})

	// importRequestDuration 解压与导入阶段可能持续数分钟，桶上限放宽到 10 分钟
	importRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gramport_import_request_duration_seconds",
			Help:    "Duration of chunk upload and stage requests by route and status",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"route", "status"},
	)

	// importRequestBytes 按路由统计上传的请求体字节数
	importRequestBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gramport_import_request_bytes_total",
			Help: "Request body bytes received on import routes",
		},
		[]string{"route"},
	)
)

// statusRecorder 记录处理器写出的状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Metrics 创建 Prometheus 指标收集中间件，按 chi 路由模式打标签。
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start).Seconds()
			route := routeLabel(r)
			status := strconv.Itoa(rec.status)

			httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed)

			if strings.HasPrefix(route, importRoutePrefix) {
				importRequestDuration.WithLabelValues(route, status).Observe(elapsed)
				if r.ContentLength > 0 {
					importRequestBytes.WithLabelValues(route).Add(float64(r.ContentLength))
				}
			}
		})
	}
}

// routeLabel 使用路由模式而非实际路径，避免高基数
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unknown"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unknown"
}
