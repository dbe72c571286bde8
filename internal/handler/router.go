package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/referral-bv-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware реферальной системы.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(h.cfg.Gatherer, promhttp.HandlerOpts{}))

	limit := custommiddleware.RateLimit(h.cfg.RateLimit, h.cfg.Counter, h.logger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/members", func(r chi.Router) {
			r.With(limit).Post("/register", h.Register)
			r.With(limit).Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/me", h.Me)
				r.Get("/me/tree", h.GetTree)
				r.Get("/me/incomes", h.GetIncomes)
				r.Get("/me/income-summary", h.GetIncomeSummary)
			})
		})

		r.Route("/purchases", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/", h.CreatePurchase)
			r.With(custommiddleware.RequireAdmin).Get("/{id}/incomes", h.GetPurchaseIncomes)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireAdmin)

			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.CreateRule)
			r.Get("/rules/active", h.ActiveRule)
			r.Get("/rules/{id}", h.GetRule)
			r.Put("/rules/{id}", h.UpdateRule)
			r.Post("/rules/{id}/activate", h.ActivateRule)

			r.Get("/services", h.ListServices)
			r.Post("/services", h.CreateService)

			r.Get("/reports/total-distributed", h.TotalDistributed)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
