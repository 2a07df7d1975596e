package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/paddock/pkg/metrics"
)

// MetricsMiddleware records the latency and status of every request, and
// counts failures by class under the "http_<endpoint>" component.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next(rec, r)

		code := rec.status()
		metrics.RecordHTTPRequest(endpoint, r.Method, strconv.Itoa(code), float64(time.Since(start).Microseconds())/1000)
		if class := errorClass(code); class != "" {
			metrics.RecordErrorByComponent("http_"+endpoint, class)
		}
	}
}

// errorClass buckets a status code. Successes have no class.
func errorClass(code int) string {
	switch {
	case code < http.StatusBadRequest:
		return ""
	case code == http.StatusServiceUnavailable:
		return "unavailable"
	case code >= http.StatusInternalServerError:
		return "server_error"
	case code == http.StatusTooManyRequests:
		return "backpressure"
	case code == http.StatusNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

// statusRecorder remembers the first status written. A handler that only
// calls Write has answered 200.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
