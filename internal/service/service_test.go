package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niktheblak/tidegauge-uplink-api/internal/ttn"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/payload"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/store"
)

type mockStore struct {
	Records   []store.Record
	InsertErr error
}

func (s *mockStore) Insert(ctx context.Context, r store.Record) error {
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.Records = append(s.Records, r)
	return nil
}

func (s *mockStore) Latest(ctx context.Context, deviceID string, n int) ([]store.Record, error) {
	var records []store.Record
	for i := len(s.Records) - 1; i >= 0 && len(records) < n; i-- {
		if s.Records[i].DeviceID == deviceID {
			records = append(records, s.Records[i])
		}
	}
	return records, nil
}

func (s *mockStore) Devices(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *mockStore) Ping(ctx context.Context) error {
	return nil
}

func (s *mockStore) Close() error {
	return nil
}

var testTime = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

func uplink(port int, frm []byte, ts time.Time) ttn.Uplink {
	return ttn.Uplink{
		EndDeviceIDs: ttn.EndDeviceIDs{DeviceID: "tidegauge-01", DevEUI: "70B3D57ED0000001"},
		ReceivedAt:   ts,
		UplinkMessage: ttn.UplinkMessage{
			FPort:      port,
			FCnt:       7,
			FRMPayload: frm,
		},
	}
}

func TestService_Ingest(t *testing.T) {
	t.Run("Valid uplink", func(t *testing.T) {
		st := new(mockStore)
		svc, err := New(Config{Store: st})
		require.NoError(t, err)
		r, err := svc.Ingest(context.Background(), uplink(1, []byte{0xFF, 0xF6, 0x00, 0x14, 0x0C, 0x1C}, testTime))
		require.NoError(t, err)
		assert.Equal(t, testTime, r.Time)
		assert.Equal(t, "tidegauge-01", r.DeviceID)
		assert.Equal(t, "70B3D57ED0000001", r.DevEUI)
		assert.Equal(t, 1, r.FPort)
		assert.Equal(t, uint32(7), r.FCnt)
		assert.Equal(t, payload.FromMillimeters(-10, 20, 3100), r.Reading)
		require.Len(t, st.Records, 1)
		assert.Equal(t, r, st.Records[0])
	})
	t.Run("Short payload", func(t *testing.T) {
		st := new(mockStore)
		svc, err := New(Config{Store: st})
		require.NoError(t, err)
		_, err = svc.Ingest(context.Background(), uplink(1, []byte{0x00, 0x0A}, testTime))
		assert.ErrorIs(t, err, payload.ErrShortPayload)
		assert.Empty(t, st.Records)
	})
	t.Run("Ignored port", func(t *testing.T) {
		st := new(mockStore)
		svc, err := New(Config{Store: st, FPort: 2})
		require.NoError(t, err)
		_, err = svc.Ingest(context.Background(), uplink(1, []byte{0, 0, 0, 0, 0, 0}, testTime))
		assert.ErrorIs(t, err, ErrIgnoredPort)
		assert.Empty(t, st.Records)
	})
	t.Run("Missing receive time", func(t *testing.T) {
		st := new(mockStore)
		now := time.Date(2026, time.April, 2, 3, 4, 5, 0, time.UTC)
		svc, err := New(Config{Store: st, Now: func() time.Time { return now }})
		require.NoError(t, err)
		r, err := svc.Ingest(context.Background(), uplink(1, []byte{0, 0, 0, 0, 0, 0}, time.Time{}))
		require.NoError(t, err)
		assert.Equal(t, now, r.Time)
	})
	t.Run("Store error", func(t *testing.T) {
		st := &mockStore{InsertErr: errors.New("connection refused")}
		svc, err := New(Config{Store: st})
		require.NoError(t, err)
		_, err = svc.Ingest(context.Background(), uplink(1, []byte{0, 0, 0, 0, 0, 0}, testTime))
		assert.ErrorIs(t, err, st.InsertErr)
	})
}

func TestService_Latest(t *testing.T) {
	st := new(mockStore)
	svc, err := New(Config{Store: st})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.Ingest(context.Background(), uplink(1, []byte{0x00, byte(i), 0, 0, 0, 0}, testTime.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	records, err := svc.Latest(context.Background(), "tidegauge-01", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int16(2), records[0].TideHeightMM)
	assert.Equal(t, int16(1), records[1].TideHeightMM)
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
