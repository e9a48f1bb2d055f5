package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jdholdren/headlines/internal/logger"
)

// accessLogMiddleware logs every request and tags everything logged while
// handling it with a request id.
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.Ctx(r.Context(), slog.String("request_id", uuid.NewString()))
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path)
		start := time.Now()

		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)

		slog.InfoContext(ctx, "request completed",
			"method", r.Method,
			"url", r.URL.Path,
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

// To trap the response status code for logging later.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
