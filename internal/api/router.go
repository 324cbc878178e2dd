package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// NewRouter собирает HTTP-маршруты витрины поверх готовых обработчиков.
func NewRouter(promo *PromoHandler, returns *ReturnsHandler, logger *log.Entry) http.Handler {
	if logger == nil {
		logger = log.New().WithField("component", "api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/coupons", func(r chi.Router) {
			r.Post("/validate", promo.Validate)
			r.Post("/apply", promo.Apply)
			r.Get("/history", promo.History)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/{orderID}", returns.GetOrder)
			r.Get("/{orderID}/return-eligibility", returns.Eligibility)
		})

		r.Route("/returns", func(r chi.Router) {
			r.Post("/", returns.CreateReturn)
			r.Get("/", returns.ListReturns)
			r.Get("/{returnID}", returns.GetReturn)
		})

		r.Route("/admin/returns", func(r chi.Router) {
			r.Post("/{returnID}/status", returns.Transition)
		})
	})

	return r
}
