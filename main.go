// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/petervdpas/botdash/internal/api"
	"github.com/petervdpas/botdash/internal/app"
	"github.com/petervdpas/botdash/internal/config"
	"github.com/petervdpas/botdash/internal/proto"
)

const defaultConfig = "botdash.json"

var (
	showHelp    = flag.Bool("h", false, "Show help")
	version     = flag.Bool("version", false, "Show version")
	interactive = flag.Bool("i", false, "Ask for settings (init only)")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("botdash v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		runDaemon(defaultConfig)
		return
	}

	command := args[0]
	switch command {
	case "run":
		runDaemon(argOr(args, 1, defaultConfig))

	case "status":
		var guild proto.Snowflake
		if len(args) > 2 {
			guild = proto.Snowflake(args[2])
		}
		runStatus(argOr(args, 1, defaultConfig), guild)

	case "control":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "Error: control requires config, guild and action")
			fmt.Fprintln(os.Stderr, "Usage: botdash control <config> <guild> <pause|resume|skip|stop>")
			os.Exit(1)
		}
		runControl(args[1], proto.Snowflake(args[2]), args[3])

	case "init":
		runInit(argOr(args, 1, defaultConfig))

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func argOr(args []string, i int, def string) string {
	if len(args) > i {
		return args[i]
	}
	return def
}

func loadConfig(path string) (string, config.Config) {
	abs, err := filepath.Abs(path)
	if err != nil {
		log.Fatalf("Invalid config path: %v", err)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return abs, cfg
}

func runDaemon(cfgArg string) {
	cfgPath, cfg := loadConfig(cfgArg)

	printBanner(cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		CfgPath: cfgPath,
		Cfg:     cfg,
		Progress: func(step, total int, label string) {
			fmt.Printf("[%d/%d] %s\n", step, total, label)
		},
	}); err != nil {
		log.Fatalf("Dashboard failed: %v", err)
	}
}

func runStatus(cfgArg string, guild proto.Snowflake) {
	_, cfg := loadConfig(cfgArg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.PrintStatus(ctx, os.Stdout, api.NewClient(cfg.Backend.APIURL), guild); err != nil {
		log.Fatalf("Status failed: %v", err)
	}
}

func runControl(cfgArg string, guild proto.Snowflake, action string) {
	if !proto.ValidAction(action) {
		log.Fatalf("Unknown action %q", action)
	}
	_, cfg := loadConfig(cfgArg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := api.NewClient(cfg.Backend.APIURL).Control(ctx, guild, action); err != nil {
		log.Fatalf("Control failed: %v", err)
	}
	fmt.Printf("%s sent to guild %s\n", action, guild)
}

func runInit(cfgArg string) {
	abs, err := filepath.Abs(cfgArg)
	if err != nil {
		log.Fatalf("Invalid config path: %v", err)
	}
	cfg, created, err := config.Ensure(abs)
	if err != nil {
		log.Fatalf("Failed to create config: %v", err)
	}
	if *interactive {
		cfg = app.PromptInteractive(os.Stdin, os.Stdout, abs, cfg)
		if err := config.Save(abs, cfg); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		fmt.Printf("Saved %s\n", abs)
		return
	}
	if created {
		fmt.Printf("Created %s\n", abs)
	} else {
		fmt.Printf("%s already exists\n", abs)
	}
}

func showUsage() {
	fmt.Println("botdash - realtime dashboard for the chat bot")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  botdash [run] [config]               Run the dashboard daemon (default config: botdash.json)")
	fmt.Println("  botdash status [config] [guild]      Print bot health, music and usage")
	fmt.Println("  botdash control <config> <guild> <action>")
	fmt.Println("                                       Send pause|resume|skip|stop to a guild")
	fmt.Println("  botdash [-i] init [config]           Write a default config (-i asks for settings)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -i        Interactive init")
	fmt.Println()
	fmt.Println("Config files ending in .yaml or .yml are read as YAML, anything else as JSON.")
	fmt.Printf("%s and %s override the backend URLs.\n", config.EnvAPIURL, config.EnvWSURL)
}

func printBanner(cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                        botdash                         ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Config File:    %s\n", cfgPath)
	fmt.Printf("Bot API:        %s\n", cfg.Backend.APIURL)
	fmt.Printf("Push Channel:   %s\n", cfg.WSEndpoint())
	if cfg.Backend.GuildID != "" {
		fmt.Printf("Guild:          %s\n", cfg.Backend.GuildID)
	}
	fmt.Println()

	if cfg.Viewer.HTTPAddr != "" {
		addr := cfg.Viewer.HTTPAddr
		if addr[0] == ':' {
			addr = "127.0.0.1" + addr
		}
		fmt.Printf("🌐 Dashboard API:  http://%s/api/state\n", addr)
		fmt.Println()
	}

	fmt.Println("Starting... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
