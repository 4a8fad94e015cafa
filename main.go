package main

import (
	"os"

	"github.com/niktheblak/tidegauge-uplink-api/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
