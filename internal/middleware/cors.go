package middleware

import (
	"net/http"
	"strings"
)

// 浏览器端上传器需要读取的响应头：限流后的重试间隔与附件下载文件名。
var corsExposedHeaders = strings.Join([]string{"Retry-After", "Content-Disposition"}, ", ")

// originPolicy 描述哪些来源可以跨域调用导入接口。
type originPolicy struct {
	any     bool
	origins map[string]struct{}
}

func newOriginPolicy(allowedOrigins []string) originPolicy {
	p := originPolicy{origins: map[string]struct{}{}}
	for _, origin := range allowedOrigins {
		value := strings.TrimRight(strings.TrimSpace(origin), "/")
		switch value {
		case "":
		case "*":
			p.any = true
		default:
			p.origins[value] = struct{}{}
		}
	}
	return p
}

// match 返回应写入 Access-Control-Allow-Origin 的值，空串表示拒绝。
func (p originPolicy) match(origin string) string {
	if origin == "" {
		return ""
	}
	if p.any {
		return "*"
	}
	if _, ok := p.origins[origin]; ok {
		return origin
	}
	return ""
}

// CORS 允许配置的来源跨域上传分片并推进导入阶段。
// 预检请求直接以 204 结束；未允许的来源照常转发，由浏览器拦截。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := policy.match(r.Header.Get("Origin"))
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}

			headers := w.Header()
			headers.Set("Access-Control-Allow-Origin", allowed)
			headers.Set("Access-Control-Expose-Headers", corsExposedHeaders)
			if allowed != "*" {
				headers.Add("Vary", "Origin")
				headers.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				headers.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				headers.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
				headers.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
