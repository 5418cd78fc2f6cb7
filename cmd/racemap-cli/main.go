package main

import (
	"context"
	"racemap-backend/cmd/racemap-cli/commands"
	"racemap-backend/internal/components/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "racemap-cli")
	commands.ExecuteContext(context.Background())
}
