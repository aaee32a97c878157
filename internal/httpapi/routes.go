package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// SetupRoutes mounts the REST surface and the WebSocket endpoint. The
// socket handler is passed in so this package does not depend on the
// transport internals.
func SetupRoutes(a *API, socket http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.log))
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/rooms", a.CreateRoom)
		r.Route("/battle", func(r chi.Router) {
			r.Post("/create", a.CreateBattle)
			r.Post("/join", a.JoinBattle)
			r.Route("/{roomID}", func(r chi.Router) {
				r.Post("/start", a.StartBattle)
				r.Post("/submit", a.Submit)
				r.Post("/end", a.EndBattle)
				r.Get("/lobby", a.Lobby)
				r.Get("/results", a.Results)
			})
		})
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/ws", socket.ServeHTTP)
	return r
}

// requestLogger logs one line per request. The socket endpoint is skipped:
// a connection can live for hours and its logging belongs to the session.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())))
		})
	}
}
