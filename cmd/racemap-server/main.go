package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"racemap-backend/internal/application"
	"racemap-backend/internal/components/chrono"
	"racemap-backend/internal/components/telemetry"
	"racemap-backend/internal/config"
	"racemap-backend/internal/server"
	"racemap-backend/internal/serviceutil"
	"time"

	"connectrpc.com/connect"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", config.DefaultPath, "The config file to read.")
	dumpDir := flag.String("dump", "", "Write every registry request/response to this directory.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if *dumpDir != "" {
		cfg.Registry.DumpDir = *dumpDir
	}
	tel := telemetry.SlogAPI{}

	app, err := application.New(ctx, cfg, tel)
	if err != nil {
		serviceutil.Fatal("init application", err)
	}
	if err := app.Bridge.Available(); err != nil {
		slog.Warn("extractor unavailable, documents will not be extracted", "err", err)
	}

	removed := app.Cache.Sweep(ctx)
	slog.Info("swept expired cache entries", "removed", removed)

	cron := chrono.NewStandardCron(app.Time, tel)
	err = cron.Schedule("cache-sweep", cfg.Cache.SweepSchedule, func(ctx context.Context) {
		app.Cache.Sweep(ctx)
	})
	if err != nil {
		serviceutil.Fatal("schedule cache sweep", err)
	}

	srv := server.NewServer(server.Options{
		Courses:      app.Courses,
		Geocoder:     app.Geocoder,
		Cache:        app.Cache,
		DownloadsDir: cfg.Directories.Downloads,
		Environment:  cfg.Environment,
		Time:         app.Time,
		Interceptors: []connect.Interceptor{serviceutil.NewConnectOtelInterceptor()},
	}, tel)

	mux := http.NewServeMux()
	srv.Register(mux)

	slog.Info("racemap server starting", "environment", cfg.Environment, "port", cfg.Port)
	err = serviceutil.StartHttpServer(ctx, cfg.Port, mux)
	if err != nil {
		slog.Error("http server", "err", err)
	}

	cron.Stop()
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	err = app.Close(closeCtx)
	if err != nil {
		slog.Warn("close application", "err", err)
	}
}
