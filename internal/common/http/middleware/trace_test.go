package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"practiceoj/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID     string `json:"trace_id"`
	CtxTraceID  string `json:"ctx_trace_id"`
	CtxIdentity string `json:"ctx_identity"`
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TraceContextMiddleware(), AccessLogMiddleware())
	router.GET("/trace", func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:     toString(traceID),
			CtxTraceID:  toString(ctx.Value(contextkey.TraceID)),
			CtxIdentity: toString(ctx.Value(contextkey.Identity)),
		})
	})

	cases := []struct {
		name             string
		headers          map[string]string
		expectedTraceID  string
		expectedIdentity string
	}{
		{name: "generate trace id"},
		{
			name:             "preserve trace id and identity",
			headers:          map[string]string{traceIDHeader: "trace-1", idempotencyKeyHeader: "cid-1"},
			expectedTraceID:  "trace-1",
			expectedIdentity: "cid-1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			var resp traceResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp.TraceID == "" || resp.TraceID != resp.CtxTraceID {
				t.Fatalf("trace id not propagated: %+v", resp)
			}
			if w.Header().Get(traceIDHeader) != resp.TraceID || w.Header().Get(requestIDHeader) == "" {
				t.Fatalf("response headers not set: %v", w.Header())
			}
			if tc.expectedTraceID != "" && resp.TraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.TraceID)
			}
			if resp.CtxIdentity != tc.expectedIdentity {
				t.Fatalf("expected identity %q, got %q", tc.expectedIdentity, resp.CtxIdentity)
			}
		})
	}
}
