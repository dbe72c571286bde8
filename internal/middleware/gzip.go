package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
)

var compressibleTypes = []string{
	"application/json",
	"text/html",
	"text/plain",
}

// GzipMiddleware распаковывает тело запроса с Content-Encoding: gzip и сжимает
// JSON и текстовые ответы для клиентов, поддерживающих gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	compress := chimw.Compress(gzip.DefaultCompression, compressibleTypes...)(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			defer gr.Close()

			r.Body = gr
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			r.ContentLength = -1
		}

		compress.ServeHTTP(w, r)
	})
}
