package commands

import (
	"context"
	"fmt"
	"os"
	"racemap-backend/internal/application"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/config"
	"racemap-backend/internal/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configPath *string
	verbose    *bool
)

var rootCmd = &cobra.Command{
	Use:   "racemap-cli",
	Short: "racemap-cli searches the course registry and manages the local caches.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", config.DefaultPath, "The config file to read.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp loads the config and builds every component, the caller must Close the result.
func openApp(ctx context.Context) *application.App {
	cfg, err := config.Load(*configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	app, err := application.New(ctx, cfg, telemetry.SlogAPI{})
	if err != nil {
		serviceutil.Fatal("failed to initialize", err)
	}
	return app
}

func closeApp(ctx context.Context, app *application.App) {
	err := app.Close(ctx)
	if err != nil {
		serviceutil.Fatal("failed to flush cache", err)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
