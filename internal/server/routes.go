package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/niktheblak/tidegauge-uplink-api/internal/service"
	"github.com/niktheblak/tidegauge-uplink-api/internal/ttn"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/payload"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/store"
)

func decodeHandler(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in payload.Input
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&in); err != nil {
			logger.LogAttrs(r.Context(), slog.LevelWarn, "Invalid decoder input", slog.Any("error", err))
			http.Error(w, "Invalid decoder input", http.StatusBadRequest)
			return
		}
		writeJSON(w, r, logger, http.StatusOK, payload.DecodeUplink(in))
	})
}

func uplinkHandler(svc service.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "Could not read request body", http.StatusBadRequest)
			return
		}
		up, err := ttn.Parse(body)
		if err != nil {
			logger.LogAttrs(r.Context(), slog.LevelWarn, "Invalid uplink message", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		record, err := svc.Ingest(ctx, up)
		switch {
		case errors.Is(err, service.ErrIgnoredPort):
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, payload.ErrShortPayload):
			writeJSON(w, r, logger, http.StatusUnprocessableEntity, payload.Output{Errors: []string{payload.ErrShortPayload.Error()}})
		case errors.Is(err, context.DeadlineExceeded):
			logger.LogAttrs(r.Context(), slog.LevelError, "Timeout while storing reading", slog.Any("error", err))
			http.Error(w, "Timeout while storing reading", http.StatusBadGateway)
		case err != nil:
			logger.LogAttrs(r.Context(), slog.LevelError, "Error while storing reading", slog.Any("error", err))
			http.Error(w, "Error while storing reading", http.StatusInternalServerError)
		default:
			writeJSON(w, r, logger, http.StatusOK, record)
		}
	})
}

func latestHandler(svc service.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loc, err := parseLocation(r.URL.Query().Get("tz"))
		if err != nil {
			logger.LogAttrs(r.Context(), slog.LevelWarn, "Invalid timezone", slog.String("timezone", r.URL.Query().Get("tz")), slog.Any("error", err))
			http.Error(w, "Invalid timezone", http.StatusBadRequest)
			return
		}
		n, err := parseN(r.URL.Query().Get("n"), 1)
		if err != nil {
			http.Error(w, "Invalid n", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		devices := []string{r.URL.Query().Get("device")}
		if devices[0] == "" {
			devices, err = svc.Devices(ctx)
			if err != nil {
				queryError(w, r, logger, err)
				return
			}
		}
		response := make(map[string][]store.Record)
		for _, device := range devices {
			records, err := svc.Latest(ctx, device, n)
			if err != nil {
				queryError(w, r, logger, err)
				return
			}
			if len(records) == 0 {
				continue
			}
			for i := range records {
				records[i].Time = records[i].Time.In(loc)
			}
			response[device] = records
		}
		w.Header().Set("Cache-Control", "no-store, max-age=0")
		writeJSON(w, r, logger, http.StatusOK, response)
	})
}

func devicesHandler(svc service.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		devices, err := svc.Devices(ctx)
		if err != nil {
			queryError(w, r, logger, err)
			return
		}
		if devices == nil {
			devices = []string{}
		}
		writeJSON(w, r, logger, http.StatusOK, devices)
	})
}

func healthHandler(svc service.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := svc.Ping(ctx); err != nil {
			logger.LogAttrs(r.Context(), slog.LevelError, "Health check failed", slog.Any("error", err))
			http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "OK")
	})
}

func queryError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		logger.LogAttrs(r.Context(), slog.LevelError, "Timeout while querying readings", slog.Any("error", err))
		http.Error(w, "Timeout while querying readings", http.StatusBadGateway)
		return
	}
	logger.LogAttrs(r.Context(), slog.LevelError, "Error while getting readings", slog.Any("error", err))
	http.Error(w, "Error while getting readings", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogAttrs(r.Context(), slog.LevelError, "Error while writing output", slog.Any("error", err))
	}
}

func parseN(n string, defaultValue int) (int, error) {
	if n == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, fmt.Errorf("n must be at least 1")
	}
	return v, nil
}

func parseLocation(tz string) (loc *time.Location, err error) {
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		return
	}
	loc = time.UTC
	return
}
