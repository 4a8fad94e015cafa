package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/niktheblak/tidegauge-uplink-api/pkg/payload"
)

var ErrInvalidTable = errors.New("invalid table name")

var (
	createTmpl = template.Must(template.New("CreateTable").Parse(`
		CREATE TABLE IF NOT EXISTS {{.Table}} (
			time TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL,
			dev_eui TEXT,
			f_port INTEGER,
			f_cnt BIGINT,
			tide_height_mm SMALLINT NOT NULL,
			raw_distance_mm INTEGER NOT NULL,
			battery_mv INTEGER NOT NULL
		)
	`))
	indexTmpl = template.Must(template.New("CreateIndex").Parse(`
		CREATE INDEX IF NOT EXISTS {{.Index}} ON {{.Table}} (device_id, time DESC)
	`))
	insertTmpl = template.Must(template.New("InsertReading").Parse(`
		INSERT INTO {{.Table}} ({{.Columns}})
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`))
	latestTmpl = template.Must(template.New("SelectLatest").Parse(`
		SELECT {{.Columns}}
		FROM {{.Table}}
		WHERE device_id = $1
		ORDER BY time DESC
		LIMIT $2
	`))
	devicesTmpl = template.Must(template.New("SelectDevices").Parse(`
		SELECT DISTINCT device_id FROM {{.Table}} ORDER BY device_id
	`))
	identifier = regexp.MustCompile(`^[A-Za-z_]\w*(\.[A-Za-z_]\w*)?$`)
)

// Columns are the stored columns in insert and select order
var Columns = []string{
	"time",
	"device_id",
	"dev_eui",
	"f_port",
	"f_cnt",
	"tide_height_mm",
	"raw_distance_mm",
	"battery_mv",
}

type tmplValues struct {
	Table   string
	Index   string
	Columns string
}

type Scanner interface {
	Scan(dest ...any) error
}

type QueryBuilder struct {
	Table string
}

func NewQueryBuilder(table string) (*QueryBuilder, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return &QueryBuilder{Table: table}, nil
}

// CreateTable returns the statements creating the table and its index
func (q *QueryBuilder) CreateTable() ([]string, error) {
	var stmts []string
	for _, tmpl := range []*template.Template{createTmpl, indexTmpl} {
		stmt, err := q.render(tmpl)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func (q *QueryBuilder) Insert() (string, error) {
	return q.render(insertTmpl)
}

func (q *QueryBuilder) Latest() (string, error) {
	return q.render(latestTmpl)
}

func (q *QueryBuilder) Devices() (string, error) {
	return q.render(devicesTmpl)
}

func (q *QueryBuilder) render(tmpl *template.Template) (string, error) {
	b := new(strings.Builder)
	err := tmpl.Execute(b, tmplValues{
		Table:   q.Table,
		Index:   strings.ReplaceAll(q.Table, ".", "_") + "_device_time_idx",
		Columns: strings.Join(Columns, ", "),
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// InsertArgs returns the query arguments for r in Columns order
func InsertArgs(r Record) []any {
	return []any{
		r.Time,
		r.DeviceID,
		r.DevEUI,
		r.FPort,
		int64(r.FCnt),
		r.TideHeightMM,
		int32(r.RawDistanceMM),
		int32(r.BatteryMV),
	}
}

// Collect scans one row selected with Columns
func Collect(res Scanner) (Record, error) {
	var (
		r          Record
		devEUI     *string
		fPort      *int32
		fCnt       *int64
		tideMM     int16
		distanceMM int32
		batteryMV  int32
	)
	if err := res.Scan(&r.Time, &r.DeviceID, &devEUI, &fPort, &fCnt, &tideMM, &distanceMM, &batteryMV); err != nil {
		return Record{}, err
	}
	if devEUI != nil {
		r.DevEUI = *devEUI
	}
	if fPort != nil {
		r.FPort = int(*fPort)
	}
	if fCnt != nil {
		r.FCnt = uint32(*fCnt)
	}
	if distanceMM < 0 || distanceMM > 0xFFFF || batteryMV < 0 || batteryMV > 0xFFFF {
		return Record{}, fmt.Errorf("stored reading out of range: raw_distance_mm=%d battery_mv=%d", distanceMM, batteryMV)
	}
	r.Reading = payload.FromMillimeters(tideMM, uint16(distanceMM), uint16(batteryMV))
	return r, nil
}

func CleanForLogging(query string) string {
	r := regexp.MustCompile(`\s+`)
	return strings.TrimSpace(r.ReplaceAllString(query, " "))
}
