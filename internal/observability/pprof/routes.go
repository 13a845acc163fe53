package pprof

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
)

// Routes wires the diagnostic endpoints. Nil members are not mounted.
type Routes struct {
	// Health backs /healthz: nil error means 200.
	Health func() error
	// Metrics is mounted at /metrics.
	Metrics http.Handler
	// Dump writes the scheduler queue table for /queue.
	Dump func(w io.Writer) error
	// Snapshot is rendered as JSON at /snapshot.
	Snapshot func() any
	// Journal returns recent journal records for /journal?limit=N.
	Journal func(ctx context.Context, limit int) (any, error)
}

func (s *Service) mux(token, prefix string) *http.ServeMux {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }
	r := s.routes

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		if r.Health != nil {
			if err := r.Health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	}))
	if r.Metrics != nil {
		mux.Handle("/metrics", wrap(r.Metrics.ServeHTTP))
	}
	if r.Dump != nil {
		mux.HandleFunc("/queue", wrap(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if err := r.Dump(w); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}))
	}
	if r.Snapshot != nil {
		mux.HandleFunc("/snapshot", wrap(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, r.Snapshot())
		}))
	}
	if r.Journal != nil {
		mux.HandleFunc("/journal", wrap(func(w http.ResponseWriter, req *http.Request) {
			limit := 100
			if v := req.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
					return
				}
				limit = min(n, 10000)
			}
			out, err := r.Journal(req.Context(), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, out)
		}))
	}

	base := strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix, wrap(pprofIndexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	if base != "" {
		mux.HandleFunc(base, func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, prefix, http.StatusPermanentRedirect)
		})
	}
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprofIndexAt serves pprof.Index under a custom prefix by rewriting the path
// to the /debug/pprof/ root it expects.
func pprofIndexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	}
}
