package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"example.com/gciserve/internal/config"
	"example.com/gciserve/internal/handlers/fileserver"
	"example.com/gciserve/internal/logger"
	"example.com/gciserve/internal/server"
)

// options holds the parsed command line.
type options struct {
	configPath string
	address    string
	root       string
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("gciserve", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "Path to the configuration file (JSON or TOML); defaults are used when empty")
	fs.StringVar(&opts.address, "addr", "", "Listen address, overriding server.address")
	fs.StringVar(&opts.root, "root", "", "Document root, overriding server.document_root")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// buildConfig loads the configuration file, if any, and applies flag overrides.
func buildConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		absPath, err := filepath.Abs(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("error getting absolute path for config file %s: %w", opts.configPath, err)
		}
		cfg, err = config.LoadConfig(absPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if opts.address != "" {
		addr := opts.address
		cfg.Server.Address = &addr
	}
	if opts.root != "" {
		root := opts.root
		cfg.Server.DocumentRoot = &root
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	exitCode := run(cfg, appLogger)
	if err := appLogger.CloseLogFiles(); err != nil {
		log.Printf("Error closing log files during shutdown: %v", err)
	}
	os.Exit(exitCode)
}

func run(cfg *config.Config, appLogger *logger.Logger) int {
	dispatcher, err := fileserver.New(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize dispatcher", logger.LogFields{"error": err.Error()})
		return 1
	}

	srv, err := server.NewServer(cfg, appLogger, dispatcher)
	if err != nil {
		appLogger.Error("Failed to initialize server", logger.LogFields{"error": err.Error()})
		return 1
	}

	appLogger.Info("Starting server", logger.LogFields{
		"address":       *cfg.Server.Address,
		"document_root": *cfg.Server.DocumentRoot,
		"script_suffix": *cfg.Handler.ScriptSuffix,
		"config_file":   cfg.OriginalFilePath,
	})
	if err := srv.Start(); err != nil {
		appLogger.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
		return 1
	}
	appLogger.Info("Server has shut down gracefully", nil)
	return 0
}
