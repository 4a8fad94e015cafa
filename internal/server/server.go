package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/niktheblak/web-common/pkg/auth"

	"github.com/niktheblak/tidegauge-uplink-api/internal/service"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/middleware"
)

// maxBodySize limits request bodies; TTN uplink messages are a few kilobytes
const maxBodySize = 1 << 20

// New creates the HTTP handler of the API
func New(svc service.Service, authenticator auth.Authenticator, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if authenticator == nil {
		authenticator = auth.AlwaysAllow()
	}
	mux := http.NewServeMux()
	protect := func(h http.Handler) http.Handler {
		return middleware.Authenticator(h, authenticator)
	}
	mux.Handle("POST /decode", protect(decodeHandler(logger)))
	mux.Handle("POST /uplink", protect(uplinkHandler(svc, logger)))
	mux.Handle("GET /latest", protect(latestHandler(svc, logger)))
	mux.Handle("GET /devices", protect(devicesHandler(svc, logger)))
	mux.Handle("GET /health", healthHandler(svc, logger))
	return mux
}
