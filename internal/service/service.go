package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/niktheblak/tidegauge-uplink-api/internal/ttn"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/payload"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/store"
)

var ErrIgnoredPort = errors.New("uplink on ignored port")

type Config struct {
	Store store.Store
	// FPort restricts ingestion to uplinks on this port. Zero accepts all ports.
	FPort  int
	Logger *slog.Logger
	Now    func() time.Time
}

type Service interface {
	Ingest(ctx context.Context, up ttn.Uplink) (store.Record, error)
	Latest(ctx context.Context, deviceID string, n int) ([]store.Record, error)
	Devices(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

type service struct {
	store  store.Store
	fPort  int
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new instance of the service using the given config
func New(cfg Config) (Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &service{
		store:  cfg.Store,
		fPort:  cfg.FPort,
		logger: cfg.Logger,
		now:    cfg.Now,
	}, nil
}

// Ingest decodes the uplink payload and stores the resulting record
func (s *service) Ingest(ctx context.Context, up ttn.Uplink) (store.Record, error) {
	deviceID := up.EndDeviceIDs.DeviceID
	if s.fPort != 0 && up.UplinkMessage.FPort != s.fPort {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "Ignoring uplink", slog.String("device_id", deviceID), slog.Int("f_port", up.UplinkMessage.FPort))
		return store.Record{}, fmt.Errorf("%w %d", ErrIgnoredPort, up.UplinkMessage.FPort)
	}
	reading, err := payload.Decode(up.UplinkMessage.FRMPayload)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "Invalid payload", slog.String("device_id", deviceID), slog.Int("size", len(up.UplinkMessage.FRMPayload)))
		return store.Record{}, fmt.Errorf("device %s: %w", deviceID, err)
	}
	ts := up.Time()
	if ts.IsZero() {
		ts = s.now()
	}
	r := store.Record{
		Time:     ts.UTC(),
		DeviceID: deviceID,
		DevEUI:   up.EndDeviceIDs.DevEUI,
		FPort:    up.UplinkMessage.FPort,
		FCnt:     up.UplinkMessage.FCnt,
		Reading:  reading,
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return store.Record{}, fmt.Errorf("store reading of device %s: %w", deviceID, err)
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "Stored reading", slog.String("device_id", deviceID), slog.Any("reading", reading))
	return r, nil
}

func (s *service) Latest(ctx context.Context, deviceID string, n int) ([]store.Record, error) {
	return s.store.Latest(ctx, deviceID, n)
}

func (s *service) Devices(ctx context.Context) ([]string, error) {
	return s.store.Devices(ctx)
}

func (s *service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
