package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/niktheblak/tidegauge-uplink-api/pkg/payload"
)

const testTable = "tide_readings"

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container in short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "tidegauge",
			"POSTGRES_PASSWORD": "tidegauge",
			"POSTGRES_DB":       "tidegauge",
		},
		// the server restarts once after running the init scripts
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})
	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("host=%s port=%s user=tidegauge password=tidegauge dbname=tidegauge sslmode=disable", host, port.Port())
}

func TestStore(t *testing.T) {
	connString := startPostgres(t)
	ctx := context.Background()
	cfg := Config{
		ConnString:  connString,
		Table:       testTable,
		CreateTable: true,
	}

	st, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	// creating an existing table and index is a no-op
	again, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, again.Close())

	require.NoError(t, st.Ping(ctx))

	t.Run("Schema", func(t *testing.T) {
		pool, err := pgxpool.New(ctx, connString)
		require.NoError(t, err)
		defer pool.Close()
		var index string
		err = pool.QueryRow(ctx, "SELECT indexname FROM pg_indexes WHERE tablename = $1", testTable).Scan(&index)
		require.NoError(t, err)
		assert.Equal(t, "tide_readings_device_time_idx", index)
	})

	ts := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	records := []Record{
		{Time: ts, DeviceID: "tidegauge-02", DevEUI: "70B3D57ED0000001", FPort: 1, FCnt: 1, Reading: payload.FromMillimeters(-600, 40000, 65535)},
		{Time: ts.Add(10 * time.Minute), DeviceID: "tidegauge-02", FPort: 1, FCnt: 2, Reading: payload.FromMillimeters(-32768, 1234, 3700)},
		{Time: ts.Add(20 * time.Minute), DeviceID: "tidegauge-02", FPort: 1, FCnt: 3, Reading: payload.FromMillimeters(32767, 0, 0)},
		{Time: ts.Add(5 * time.Minute), DeviceID: "tidegauge-01", FPort: 1, FCnt: 4294967295, Reading: payload.FromMillimeters(150, 1510, 3710)},
	}
	for _, r := range records {
		require.NoError(t, st.Insert(ctx, r))
	}

	t.Run("Latest", func(t *testing.T) {
		got, err := st.Latest(ctx, "tidegauge-02", 5)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, uint32(3), got[0].FCnt)
		assert.Equal(t, uint32(2), got[1].FCnt)
		assert.Equal(t, uint32(1), got[2].FCnt)
		assert.True(t, got[0].Time.After(got[1].Time))
		assert.True(t, got[1].Time.After(got[2].Time))
	})
	t.Run("Limit", func(t *testing.T) {
		got, err := st.Latest(ctx, "tidegauge-02", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint32(3), got[0].FCnt)
		assert.Equal(t, uint32(2), got[1].FCnt)

		_, err = st.Latest(ctx, "tidegauge-02", 0)
		assert.Error(t, err)
	})
	t.Run("Round trip", func(t *testing.T) {
		got, err := st.Latest(ctx, "tidegauge-02", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		first := got[2]
		assert.True(t, first.Time.Equal(ts))
		assert.Equal(t, "70B3D57ED0000001", first.DevEUI)
		assert.Equal(t, 1, first.FPort)
		assert.Equal(t, int16(-600), first.TideHeightMM)
		assert.Equal(t, -0.6, first.TideHeightM)
		assert.Equal(t, uint16(40000), first.RawDistanceMM)
		assert.Equal(t, 40.0, first.RawDistanceM)
		assert.Equal(t, uint16(65535), first.BatteryMV)
		assert.Equal(t, 65.535, first.BatteryV)
		assert.Equal(t, int16(-32768), got[1].TideHeightMM)
		assert.Equal(t, int16(32767), got[0].TideHeightMM)

		other, err := st.Latest(ctx, "tidegauge-01", 1)
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, uint32(4294967295), other[0].FCnt)
		assert.Empty(t, other[0].DevEUI)
	})
	t.Run("Unknown device", func(t *testing.T) {
		got, err := st.Latest(ctx, "unknown", 1)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
	t.Run("Devices", func(t *testing.T) {
		devices, err := st.Devices(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"tidegauge-01", "tidegauge-02"}, devices)
	})
}

func TestNew_InvalidTable(t *testing.T) {
	_, err := New(context.Background(), Config{Table: "readings; DROP TABLE x"})
	assert.ErrorIs(t, err, ErrInvalidTable)
}
