// Package ttn contains The Things Network v3 uplink message types.
package ttn

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMissingDevice = errors.New("end_device_ids.device_id is required")

type ApplicationIDs struct {
	ApplicationID string `json:"application_id"`
}

type EndDeviceIDs struct {
	DeviceID       string         `json:"device_id"`
	DevEUI         string         `json:"dev_eui,omitempty"`
	ApplicationIDs ApplicationIDs `json:"application_ids"`
}

type UplinkMessage struct {
	FPort      int       `json:"f_port"`
	FCnt       uint32    `json:"f_cnt"`
	FRMPayload []byte    `json:"frm_payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Uplink is the message TTN publishes on MQTT and posts to webhooks for each uplink
type Uplink struct {
	EndDeviceIDs  EndDeviceIDs  `json:"end_device_ids"`
	ReceivedAt    time.Time     `json:"received_at"`
	UplinkMessage UplinkMessage `json:"uplink_message"`
}

// Parse parses and validates an uplink message
func Parse(data []byte) (Uplink, error) {
	var up Uplink
	if err := json.Unmarshal(data, &up); err != nil {
		return Uplink{}, fmt.Errorf("invalid uplink message: %w", err)
	}
	if up.EndDeviceIDs.DeviceID == "" {
		return Uplink{}, ErrMissingDevice
	}
	return up, nil
}

// Time returns the time the network received the uplink, or the zero time if unknown
func (u Uplink) Time() time.Time {
	if !u.ReceivedAt.IsZero() {
		return u.ReceivedAt
	}
	return u.UplinkMessage.ReceivedAt
}

// UplinkTopic returns the MQTT topic filter matching uplinks of every device in the application
func UplinkTopic(applicationID, tenant string) string {
	if tenant == "" {
		tenant = "ttn"
	}
	return fmt.Sprintf("v3/%s@%s/devices/+/up", applicationID, tenant)
}
