package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/FACorreiaa/expense-tracker/pkg/interceptors"
)

// Router builds the HTTP handler tree. API routes sit behind the optional
// bearer-token gate and the rate limiter; health and metrics do not.
func (d *Dependencies) Router() http.Handler {
	apiMux := http.NewServeMux()
	d.ImportHandler.Register(apiMux)
	d.PortfolioHandler.Register(apiMux)

	var apiChain []interceptors.Middleware
	if d.TokenValidator != nil {
		apiChain = append(apiChain, interceptors.Auth(d.TokenValidator))
	}
	apiChain = append(apiChain, d.RateLimiter.Middleware())
	if d.Metrics != nil {
		// Innermost so the matched route pattern is visible.
		apiChain = append(apiChain, interceptors.Metrics(d.Metrics))
	}

	root := http.NewServeMux()
	root.Handle("/api/", interceptors.Chain(apiMux, apiChain...))
	root.HandleFunc("GET /healthz", d.healthz)
	if d.Metrics != nil {
		root.Handle("GET /metrics", d.Metrics.Handler())
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   d.Config.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	return interceptors.Chain(root,
		interceptors.Recovery(d.Logger),
		interceptors.Logging(d.Logger),
		c.Handler,
	)
}

func (d *Dependencies) healthz(w http.ResponseWriter, r *http.Request) {
	if d.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.DB.Pool.Ping(ctx); err != nil {
			interceptors.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
