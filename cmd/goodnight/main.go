// Good Night CLI. Manages the reflection daemon and triggers dreaming
// cycles that analyze AI assistant conversations and produce improvement
// artifacts.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/goodnight-ai/goodnight/pkg/version"
)

func main() {
	// .env is optional; existing environment wins.
	_ = godotenv.Load()

	// CLI commands surface progress through their own output. Structured
	// logs stay quiet unless something is wrong; the daemon replaces this
	// handler with its file logger.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = cmdStart(os.Args[2:])
	case "stop":
		err = cmdStop(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "dream":
		err = cmdDream(os.Args[2:])
	case "config":
		err = cmdConfig(os.Args[2:])
	case "logs":
		err = cmdLogs(os.Args[2:])
	case "version":
		fmt.Println(version.Full())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`good-night: an AI reflection system that analyzes conversations and produces artifacts.

Usage:
  goodnight <command> [flags]

Commands:
  start    Start the daemon (-foreground to stay attached)
  stop     Stop the daemon (-force to SIGKILL)
  status   Show daemon status
  dream    Trigger a dreaming cycle now
  config   Manage configuration: show | edit | reset
  logs     View daemon logs (-follow, -n <lines>)
  version  Print the version

Run "goodnight <command> -h" for command flags.
`)
}
