package pprof

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "pewsched/pkg/logx"
)

func testRoutes() Routes {
	return Routes{
		Health:  func() error { return nil },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "m 1\n") }),
		Dump: func(w io.Writer) error {
			_, err := io.WriteString(w, "Schedule Dump (0 in Q, 0 Total, 0 Cache)\n")
			return err
		},
		Snapshot: func() any { return map[string]int{"queued": 2} },
		Journal: func(_ context.Context, limit int) (any, error) {
			return []int{limit}, nil
		},
	}
}

func get(t *testing.T, h http.Handler, target string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), testRoutes())
	mux := s.mux("", normalizePrefix(""))

	tests := []struct {
		target string
		code   int
		body   string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "m 1"},
		{"/queue", http.StatusOK, "Schedule Dump"},
		{"/snapshot", http.StatusOK, `"queued": 2`},
		{"/journal?limit=7", http.StatusOK, "7"},
		{"/journal?limit=x", http.StatusBadRequest, "positive integer"},
		{"/debug/pprof/", http.StatusOK, "goroutine"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, mux, tt.target)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestHealthFailure(t *testing.T) {
	t.Parallel()

	r := testRoutes()
	r.Health = func() error { return errors.New("scheduler closed") }
	mux := New(Config{}, logx.Nop(), r).mux("", "/debug/pprof/")

	rec := get(t, mux, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduler closed")
}

func TestAuth(t *testing.T) {
	t.Parallel()

	mux := New(Config{}, logx.Nop(), testRoutes()).mux("s3cret", "/dbg/")

	assert.Equal(t, http.StatusUnauthorized, get(t, mux, "/healthz").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, mux, "/healthz?token=nope").Code)
	assert.Equal(t, http.StatusOK, get(t, mux, "/healthz?token=s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, mux, "/queue", "Authorization", "Bearer s3cret").Code)

	rec := get(t, mux, "/dbg/?token=s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusPermanentRedirect, get(t, mux, "/dbg").Code)
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"":              "/debug/pprof/",
		"  ":            "/debug/pprof/",
		"dbg":           "/dbg/",
		"/x/y":          "/x/y/",
		"/debug/pprof/": "/debug/pprof/",
	} {
		assert.Equal(t, want, normalizePrefix(in), in)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":6060"))
	assert.False(t, isLoopbackAddr("0.0.0.0:6060"))
	assert.False(t, isLoopbackAddr("garbage"))
}

func TestStartRefusesPublicWithoutToken(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop(), testRoutes())
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loopback")
	assert.Empty(t, s.Addr())
}

func TestStartServeStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(Config{}, logx.Nop(), testRoutes())
	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t"}))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz?token=t")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "ok"))

	// Token change forces a rebind.
	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "u"}))
	require.NotEmpty(t, s.Addr())

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: false}))
	assert.Empty(t, s.Addr())
	assert.Nil(t, s.Supervisor())
	require.NoError(t, s.Stop(ctx))
}
