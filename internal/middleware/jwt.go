package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// JWTVerifier 校验 Bearer Token：HMAC 使用共享密钥，非对称算法使用 JWKS 公钥。
type JWTVerifier struct {
	secret []byte
	jwks   *keyfunc.JWKS
	logger logrus.FieldLogger
}

// NewJWTVerifier 初始化校验器。jwksURL 非空时拉取 JWKS 并在后台每小时刷新。
func NewJWTVerifier(secret, jwksURL string, logger logrus.FieldLogger) (*JWTVerifier, error) {
	v := &JWTVerifier{logger: logger}
	if secret != "" {
		v.secret = []byte(secret)
	}

	if jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("JWKS refresh failed")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load JWKS from %s: %w", jwksURL, err)
		}
		v.jwks = jwks
		logger.WithField("url", jwksURL).Info("JWKS initialized")
	}

	if v.secret == nil && v.jwks == nil {
		return nil, errors.New("jwt auth needs JWT_SECRET or JWKS_URL")
	}
	return v, nil
}

// Close 停止 JWKS 后台刷新。
func (v *JWTVerifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func (v *JWTVerifier) keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if v.secret == nil {
			return nil, errors.New("HMAC tokens are not accepted")
		}
		return v.secret, nil
	}
	if v.jwks == nil {
		return nil, fmt.Errorf("no key for signing method %s", token.Method.Alg())
	}
	return v.jwks.Keyfunc(token)
}

// Verify 返回 token 的 sub。
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, v.keyfunc, jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// JWTAuth 创建 Bearer Token 鉴权中间件，校验通过后将 sub 存入 context。
func JWTAuth(v *JWTVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "Bearer", "missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeAuthError(w, http.StatusUnauthorized, "Bearer", "invalid Authorization format, expected: Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
			if tokenString == "" {
				writeAuthError(w, http.StatusUnauthorized, "Bearer", "empty token")
				return
			}

			sub, err := v.Verify(tokenString)
			if err != nil {
				v.logger.WithError(err).Debug("token rejected")
				writeAuthError(w, http.StatusUnauthorized, "Bearer", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalContextKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
