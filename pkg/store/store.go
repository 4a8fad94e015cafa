package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/niktheblak/tidegauge-uplink-api/pkg/payload"
)

// Record is a decoded reading together with its uplink metadata
type Record struct {
	Time     time.Time `json:"time"`
	DeviceID string    `json:"device_id"`
	DevEUI   string    `json:"dev_eui,omitempty"`
	FPort    int       `json:"f_port,omitempty"`
	FCnt     uint32    `json:"f_cnt"`
	payload.Reading
}

type Config struct {
	ConnString  string
	Table       string
	CreateTable bool
	Logger      *slog.Logger
}

type Store interface {
	Insert(ctx context.Context, r Record) error
	Latest(ctx context.Context, deviceID string, n int) ([]Record, error)
	Devices(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	io.Closer
}

type store struct {
	pool     *pgxpool.Pool
	qb       *QueryBuilder
	insertQ  string
	latestQ  string
	devicesQ string
	logger   *slog.Logger
}

// New connects to PostgreSQL using the given config
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	qb, err := NewQueryBuilder(cfg.Table)
	if err != nil {
		return nil, err
	}
	insertQ, err := qb.Insert()
	if err != nil {
		return nil, err
	}
	latestQ, err := qb.Latest()
	if err != nil {
		return nil, err
	}
	devicesQ, err := qb.Devices()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, err
	}
	s := &store{
		pool:     pool,
		qb:       qb,
		insertQ:  insertQ,
		latestQ:  latestQ,
		devicesQ: devicesQ,
		logger:   cfg.Logger,
	}
	if cfg.CreateTable {
		if err := s.createTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *store) createTable(ctx context.Context) error {
	stmts, err := s.qb.CreateTable()
	if err != nil {
		return err
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Creating table", slog.String("table", s.qb.Table))
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", s.qb.Table, err)
		}
	}
	return nil
}

func (s *store) Insert(ctx context.Context, r Record) error {
	s.logger.LogAttrs(ctx, slog.LevelDebug, "Inserting reading", slog.String("query", CleanForLogging(s.insertQ)), slog.Any("record", r))
	_, err := s.pool.Exec(ctx, s.insertQ, InsertArgs(r)...)
	return err
}

// Latest returns at most n newest records of the device, newest first
func (s *store) Latest(ctx context.Context, deviceID string, n int) ([]Record, error) {
	if n < 1 {
		return nil, fmt.Errorf("n must be at least 1")
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "Rendered query", slog.String("query", CleanForLogging(s.latestQ)))
	rows, err := s.pool.Query(ctx, s.latestQ, deviceID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		r, err := Collect(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *store) Devices(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, s.devicesQ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var devices []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *store) Close() error {
	s.pool.Close()
	return nil
}
