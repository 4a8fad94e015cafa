package cmd

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/niktheblak/tidegauge-uplink-api/pkg/tide"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Compute a site calibration from a reference reading",
	Long: `Compute a site calibration from a distance measured while the tide height
is known. The datum offset is geometry reference - distance - known tide height.

The calibration is printed as JSON and written to --path if given; pass the
file to encode --calibration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		geometry, _ := flags.GetFloat64("geometry-reference")
		distance, _ := flags.GetFloat64("distance")
		knownTide, _ := flags.GetFloat64("known-tide")
		path, _ := flags.GetString("path")
		c, err := tide.FromReference(geometry, distance, knownTide)
		if err != nil {
			return err
		}
		if path != "" {
			if err := tide.Save(path, c); err != nil {
				return err
			}
			logger.LogAttrs(cmd.Context(), slog.LevelInfo, "Saved calibration", slog.String("path", path), slog.Float64("datum_offset_m", c.DatumOffsetM))
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

func init() {
	calibrateCmd.Flags().Float64("geometry-reference", 0, "sensor geometry reference in meters")
	calibrateCmd.Flags().Float64("distance", 0, "measured sensor-to-surface distance in meters")
	calibrateCmd.Flags().Float64("known-tide", 0, "known tide height at the time of measurement in meters")
	calibrateCmd.Flags().String("path", "", "calibration file to write")
	cobra.CheckErr(calibrateCmd.MarkFlagRequired("geometry-reference"))
	cobra.CheckErr(calibrateCmd.MarkFlagRequired("distance"))
	cobra.CheckErr(calibrateCmd.MarkFlagRequired("known-tide"))

	rootCmd.AddCommand(calibrateCmd)
}
