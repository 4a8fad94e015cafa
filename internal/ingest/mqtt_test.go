package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niktheblak/tidegauge-uplink-api/internal/ttn"
)

const testTopic = "v3/harbour@ttn/devices/tidegauge-01/up"

func newTestSubscriber(t *testing.T, handler Handler) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(Config{
		Broker:   "tcp://127.0.0.1:1883",
		ClientID: "tidegauge-test",
		Topic:    ttn.UplinkTopic("harbour", ""),
	}, handler)
	require.NoError(t, err)
	return s
}

func TestNewSubscriber(t *testing.T) {
	handler := func(ctx context.Context, up ttn.Uplink) error { return nil }
	_, err := NewSubscriber(Config{Topic: "t"}, handler)
	assert.Error(t, err)
	_, err = NewSubscriber(Config{Broker: "tcp://127.0.0.1:1883"}, handler)
	assert.Error(t, err)
	_, err = NewSubscriber(Config{Broker: "tcp://127.0.0.1:1883", Topic: "t"}, nil)
	assert.Error(t, err)
}

func TestSubscriber_handleMessage(t *testing.T) {
	t.Run("Valid uplink", func(t *testing.T) {
		var got []ttn.Uplink
		s := newTestSubscriber(t, func(ctx context.Context, up ttn.Uplink) error {
			got = append(got, up)
			return nil
		})
		s.handleMessage(context.Background(), testTopic, []byte(`{
			"end_device_ids": {"device_id": "tidegauge-01"},
			"uplink_message": {"f_port": 1, "frm_payload": "AAoAFAwc"}
		}`))
		require.Len(t, got, 1)
		assert.Equal(t, "tidegauge-01", got[0].EndDeviceIDs.DeviceID)
		assert.Equal(t, []byte{0x00, 0x0A, 0x00, 0x14, 0x0C, 0x1C}, got[0].UplinkMessage.FRMPayload)
	})
	t.Run("Invalid message", func(t *testing.T) {
		called := false
		s := newTestSubscriber(t, func(ctx context.Context, up ttn.Uplink) error {
			called = true
			return nil
		})
		s.handleMessage(context.Background(), testTopic, []byte(`not json`))
		s.handleMessage(context.Background(), testTopic, []byte(`{"uplink_message": {}}`))
		assert.False(t, called)
	})
	t.Run("Handler error", func(t *testing.T) {
		calls := 0
		s := newTestSubscriber(t, func(ctx context.Context, up ttn.Uplink) error {
			calls++
			return errors.New("database unavailable")
		})
		assert.NotPanics(t, func() {
			s.handleMessage(context.Background(), testTopic, []byte(`{"end_device_ids": {"device_id": "tidegauge-01"}}`))
		})
		assert.Equal(t, 1, calls)
	})
}

func TestSubscriber_Disconnect(t *testing.T) {
	s := newTestSubscriber(t, func(ctx context.Context, up ttn.Uplink) error { return nil })
	s.Disconnect()
	s.Disconnect()
	assert.False(t, s.IsConnected())
	assert.Error(t, s.Connect(context.Background()))
}
