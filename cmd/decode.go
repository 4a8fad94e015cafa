package cmd

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/niktheblak/tidegauge-uplink-api/pkg/payload"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <payload>",
	Short: "Decode a tide gauge payload given as hex or base64",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		isBase64, _ := cmd.Flags().GetBool("base64")
		b, err := parsePayload(args[0], isBase64)
		if err != nil {
			return err
		}
		out := payload.DecodeUplink(payload.Input{Bytes: b})
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			return payload.ErrShortPayload
		}
		return nil
	},
}

// parsePayload accepts hex with optional separators or standard base64
func parsePayload(s string, isBase64 bool) ([]byte, error) {
	if isBase64 {
		return base64.StdEncoding.DecodeString(s)
	}
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

func init() {
	decodeCmd.Flags().Bool("base64", false, "payload is base64 encoded (as in TTN frm_payload)")

	rootCmd.AddCommand(decodeCmd)
}
