package payload

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// ByteArray is a payload as the network server passes it to uplink decoders:
// a JSON array of integers. A base64 string is accepted as well.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 payload: %w", err)
		}
		*b = decoded
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 0xFF {
			return fmt.Errorf("byte at index %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Input is the argument of an uplink decoder
type Input struct {
	Bytes    ByteArray  `json:"bytes"`
	FPort    int        `json:"fPort,omitempty"`
	RecvTime *time.Time `json:"recvTime,omitempty"`
}

// Output is the result of an uplink decoder. Exactly one of Data and Errors is set.
type Output struct {
	Data   *Reading `json:"data,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// DecodeUplink decodes in and reports failures inline in the output
func DecodeUplink(in Input) Output {
	r, err := Decode(in.Bytes)
	if err != nil {
		return Output{Errors: []string{err.Error()}}
	}
	return Output{Data: &r}
}
