package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/marcs89/Instagram-Message-Router/pkg/config"
	"github.com/marcs89/Instagram-Message-Router/pkg/handlers"
)

func NewHTTPServer(cfg *config.Config, handler *handlers.Handler, logger *logrus.Logger) *http.Server {
	router := mux.NewRouter()

	// Webhook endpoints
	router.HandleFunc("/webhook", handler.VerifyWebhook).Methods("GET")
	router.HandleFunc("/webhook", handler.ReceiveWebhook).Methods("POST")

	// Dashboard API
	router.HandleFunc("/conversations", handler.ListConversations).Methods("GET")
	router.HandleFunc("/conversations/{id}", handler.GetConversation).Methods("GET")
	router.HandleFunc("/conversations/{id}/status", handler.UpdateStatus).Methods("POST")
	router.HandleFunc("/conversations/{id}/reply", handler.Reply).Methods("POST")
	router.HandleFunc("/comments", handler.ListComments).Methods("GET")

	router.HandleFunc("/health", handler.Health).Methods("GET")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Add logging middleware
	router.Use(loggingMiddleware(logger))

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}
