package commands

import (
	"encoding/json"
	"errors"
	"os"
	"racemap-backend/internal/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract <path/to/document.pdf>",
	Short: "Runs the extractor on a document (through the extraction cache) and prints its fields.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := openApp(ctx)
		defer closeApp(ctx, app)

		err := app.Bridge.Available()
		if err != nil {
			serviceutil.Fatal("extractor unavailable", err)
		}
		fields, ok := app.Extractor.Extract(ctx, args[0])
		if !ok {
			serviceutil.Fatal("extraction failed", errors.New("the extractor produced no data"))
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		err = encoder.Encode(fields)
		if err != nil {
			serviceutil.Fatal("failed to encode fields", err)
		}
	},
}
