package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/niktheblak/tidegauge-uplink-api/pkg/payload"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/tide"
)

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a tide gauge payload",
	Long: `Encode a tide gauge payload from metric values.

When --calibration or --geometry-reference is given the tide height is
computed from the measured distance as geometry reference - distance - datum
offset, the same way the device does it. Flags override values read from the
calibration file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		tideHeight, _ := flags.GetFloat64("tide")
		distance, _ := flags.GetFloat64("distance")
		battery, _ := flags.GetFloat64("battery")
		if flags.Changed("geometry-reference") || flags.Changed("calibration") {
			var c tide.Calibration
			if path, _ := flags.GetString("calibration"); path != "" {
				loaded, err := tide.Load(path)
				if err != nil {
					return err
				}
				c = loaded
			}
			if flags.Changed("geometry-reference") {
				c.GeometryReferenceM, _ = flags.GetFloat64("geometry-reference")
			}
			if flags.Changed("datum-offset") {
				c.DatumOffsetM, _ = flags.GetFloat64("datum-offset")
			}
			h, err := c.Height(distance)
			if err != nil {
				return err
			}
			logger.LogAttrs(cmd.Context(), slog.LevelDebug, "Computed tide height", slog.Float64("tide_height_m", h), slog.Any("calibration", c))
			tideHeight = h
		}
		b, err := payload.Encode(tideHeight, distance, battery)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(fmt.Sprintf("%x", b)))
		return nil
	},
}

func init() {
	encodeCmd.Flags().Float64("tide", 0, "tide height in meters")
	encodeCmd.Flags().Float64("distance", 0, "measured sensor-to-surface distance in meters")
	encodeCmd.Flags().Float64("battery", 0, "battery voltage in volts")
	encodeCmd.Flags().Float64("geometry-reference", 0, "sensor geometry reference in meters")
	encodeCmd.Flags().Float64("datum-offset", 0, "datum offset in meters")
	encodeCmd.Flags().String("calibration", "", "calibration file written by the calibrate command")
	encodeCmd.MarkFlagsMutuallyExclusive("tide", "geometry-reference")
	encodeCmd.MarkFlagsMutuallyExclusive("tide", "calibration")

	rootCmd.AddCommand(encodeCmd)
}
