package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"flowfarm/mcp"
	"flowfarm/pkg/config"
	"flowfarm/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	mode := flag.String("mode", "run", "run | scan | mcp | watch")
	importPath := flag.String("import", "", "import a JSON or CSV work-item document before starting")
	exportPath := flag.String("export", "", "write the work items to this JSON file when done")
	flag.Parse()

	if err := run(*configPath, *mode, *importPath, *exportPath); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath, mode, importPath, exportPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := logger.Config{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		File:       cfg.Log.File,
		FilePath:   filepath.Join(cfg.DataDir, "logs", "flowfarm.log"),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   true,
	}
	if mode == "mcp" {
		// stdout carries the protocol
		logCfg.Console = false
		logCfg.File = true
	}
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	app, err := NewApp(cfg, version)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	app.Startup(ctx)

	if importPath != "" {
		data, err := os.ReadFile(importPath)
		if err != nil {
			return err
		}
		added, skipped, err := app.ImportItems(filepath.Base(importPath), data)
		if err != nil {
			return err
		}
		logger.Info("main").Int("added", added).Int("skipped", skipped).Str("file", importPath).Msg("items imported")
	}

	switch mode {
	case "run":
		stats, err := app.RunBatch(ctx, "")
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))

	case "scan":
		devices, err := app.ScanDevices(ctx)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(devices, "", "  ")
		fmt.Println(string(out))

	case "mcp":
		if err := mcp.NewMCPServer(NewMCPBridge(app)).Start(); err != nil && ctx.Err() == nil {
			return err
		}

	case "watch":
		if cfg.InboxDir == "" {
			return fmt.Errorf("watch mode needs inbox_dir")
		}
		logger.Info("main").Str("inbox", cfg.InboxDir).Msg("watching; interrupt to exit")
		<-ctx.Done()

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	if exportPath != "" {
		data, err := app.ExportItems()
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportPath, data, 0644); err != nil {
			return err
		}
	}
	return nil
}
