package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCORS(t *testing.T) {
	testCases := []struct {
		name        string
		config      CORSConfig
		origin      string
		wantOrigin  string
		wantCredsOK string
	}{
		{"allow all", CORSConfig{AllowAllOrigins: true}, "https://a.test", "*", "false"},
		{"listed origin", CORSConfig{AllowedOrigins: []string{"https://a.test"}}, "https://A.test", "https://A.test", "true"},
		{"unlisted origin", CORSConfig{AllowedOrigins: []string{"https://a.test"}}, "https://b.test", "", ""},
		{"no list reflects", CORSConfig{}, "https://c.test", "https://c.test", "true"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tc.config))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tc.wantCredsOK, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS(CORSConfig{AllowAllOrigins: true}))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://a.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
}

func TestCallerIdentity(t *testing.T) {
	testCases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"api key wins", map[string]string{"X-API-Key": "sk_1", "Authorization": "Bearer tok"}, "sk_1"},
		{"bearer token", map[string]string{"Authorization": "bearer tok"}, "tok"},
		{"basic auth ignored", map[string]string{"Authorization": "Basic abc"}, "ip:192.0.2.1"},
		{"client address", nil, "ip:192.0.2.1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, CallerIdentity(c))
		})
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "sk_1...89", redact("sk_1234567789"))
	assert.Equal(t, "short", redact("short"))
	assert.Equal(t, "ip:10.0.0.1", redact("ip:10.0.0.1"))
}

func TestLoggerMiddleware_RequestID(t *testing.T) {
	r := gin.New()
	r.Use(LoggerMiddleware(nil))
	r.GET("/x", func(c *gin.Context) {
		assert.NotNil(t, GetLogger(c))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "upstream-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-1", w.Header().Get("X-Request-ID"))
}
