package commands

import (
	"racemap-backend/internal/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(geocodeCmd)
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode <city> <state>",
	Short: "Looks up the coordinates of a city.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := openApp(ctx)
		defer closeApp(ctx, app)

		result, err := app.Geocoder.Geocode(ctx, args[0], args[1])
		if err != nil {
			serviceutil.Fatal("geocoding failed", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Latitude", "Longitude", "Cached", "Source"})
		t.AppendRow(table.Row{result.Coordinates[0], result.Coordinates[1], result.Cached, result.Source})
		t.Render()
	},
}
