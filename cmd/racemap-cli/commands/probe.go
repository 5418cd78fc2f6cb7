package commands

import (
	"fmt"
	"racemap-backend/internal/serviceutil"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Checks that the registry answers searches and that course ids can be found in the response.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := openApp(ctx)
		defer closeApp(ctx, app)

		result, err := app.Registry.Probe(ctx)
		if err != nil {
			serviceutil.Fatal("registry probe failed", err)
		}

		fmt.Printf("registry: %s\n", app.Registry.BaseURL())
		fmt.Printf("response: %d bytes in %s\n", result.ResponseBytes, result.Duration.Round(1e6))
		fmt.Printf("course ids: %d\n", len(result.CourseIDs))
		if len(result.CourseIDs) > 0 {
			sample := result.CourseIDs[:min(5, len(result.CourseIDs))]
			fmt.Printf("sample: %s\n", strings.Join(sample, ", "))
		}
	},
}
