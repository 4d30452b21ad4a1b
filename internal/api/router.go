package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"gramport/internal/config"
	gpmiddleware "gramport/internal/middleware"
)

// Handlers 汇总需要注册到路由上的业务处理器，nil 表示不注册。
type Handlers struct {
	Imports *ImportHandler
	Posts   *PostHandler
}

// Authenticator 按 AUTH_MODE 构建鉴权中间件；返回的 close 用于停止 JWKS 后台刷新。
// 模式为 none 时中间件为 nil。
func Authenticator(cfg *config.Config, logger logrus.FieldLogger) (func(http.Handler) http.Handler, func(), error) {
	switch cfg.AuthMode {
	case "none":
		return nil, func() {}, nil
	case "jwt":
		verifier, err := gpmiddleware.NewJWTVerifier(cfg.JWTSecret, cfg.JWKSURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return gpmiddleware.JWTAuth(verifier), verifier.Close, nil
	case "apikey", "":
		return gpmiddleware.APIKeyAuth(cfg.APIKeys), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, auth func(http.Handler) http.Handler, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(gpmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(gpmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(gpmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}
		if h.Imports != nil {
			h.Imports.RegisterRoutes(r)
		}
		if h.Posts != nil {
			h.Posts.RegisterRoutes(r)
		}
	})

	return r
}
