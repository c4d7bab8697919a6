package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"judgeflow/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func newRouter(cfg middleware.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.TraceContextMiddleware(), middleware.AuthMiddleware(cfg))
	r.GET("/me", func(c *gin.Context) {
		id, _ := middleware.UserID(c)
		c.String(http.StatusOK, strconv.FormatInt(id, 10))
	})
	return r
}

func signToken(t *testing.T, sub, typ string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "typ": typ, "exp": exp.Unix(), "iss": "judgeflow"}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestAuthMiddlewareJWT(t *testing.T) {
	r := newRouter(middleware.AuthConfig{Mode: middleware.AuthModeJWT, JWTSecret: secret, JWTIssuer: "judgeflow"})
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid", header: "Bearer " + signToken(t, "42", "access", future), status: http.StatusOK, body: "42"},
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + signToken(t, "42", "refresh", future), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, "42", "access", time.Now().Add(-time.Minute)), status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc.def.ghi", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.body)
			}
			if rec.Header().Get("X-Trace-Id") == "" {
				t.Fatalf("trace id header missing")
			}
		})
	}
}

func TestAuthMiddlewareHeaderMode(t *testing.T) {
	r := newRouter(middleware.AuthConfig{Mode: middleware.AuthModeHeader})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-Id", "7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "7" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-Id", "abc")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad header status = %d", rec.Code)
	}
}

func TestTraceContextKeepsIncomingTraceID(t *testing.T) {
	r := newRouter(middleware.AuthConfig{Mode: middleware.AuthModeHeader})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-Id", "1")
	req.Header.Set("X-Trace-Id", "trace-abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-Id"); got != "trace-abc" {
		t.Fatalf("trace id = %q", got)
	}
}
