// requestctx.go — сведения о запросе для журнала аудита.
package middleware

import (
	"net"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/docsign/signing-module/internal/service"
)

// RequestContext возвращает middleware, помещающий в контекст IP-адрес,
// User-Agent и идентификатор запроса. Должен подключаться после
// chi middleware.RequestID. Идентификатор возвращается в заголовке X-Request-Id.
func RequestContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := chimw.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set(chimw.RequestIDHeader, requestID)
			}

			ctx := service.WithRequestInfo(r.Context(), service.RequestInfo{
				IPAddress: clientIP(r.RemoteAddr),
				UserAgent: r.UserAgent(),
				RequestID: requestID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP отбрасывает порт из RemoteAddr.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
