package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/daemon"
	"github.com/goodnight-ai/goodnight/pkg/dreaming"
	"github.com/goodnight-ai/goodnight/pkg/events"
	"github.com/goodnight-ai/goodnight/pkg/storage"
)

// eventIcons mirror the agent event kinds in the live feed.
var eventIcons = map[events.Kind]string{
	events.KindToolCall:   ">",
	events.KindToolResult: "<",
	events.KindThinking:   "~",
	events.KindComplete:   "+",
	events.KindError:      "!",
}

func cmdDream(args []string) error {
	fs := flag.NewFlagSet("dream", flag.ExitOnError)
	connector := fs.String("connector", "", "analyze a single connector")
	module := fs.String("module", "", "run a single prompt module")
	dryRun := fs.Bool("dry-run", false, "analyze without writing artifacts or state")
	quiet := fs.Bool("quiet", false, "suppress the live agent event feed")
	limit := fs.Int("limit", 0, "cap conversations per connector")
	days := fs.Int("days", -1, "look back this many days instead of the stored cursor")
	_ = fs.Parse(args)

	runtimeDir, err := daemon.InitRuntimeDir("")
	if err != nil {
		return err
	}
	cfg, err := config.Load(runtimeDir)
	if err != nil {
		return err
	}

	// On a first run there is no cursor, so without bounds the cycle would
	// ingest the entire conversation history. Ask how far back to go.
	if *days < 0 && *limit <= 0 && firstRun(runtimeDir, cfg, *connector) {
		*days = promptLookbackDays(cfg.Dreaming.InitialLookbackDays)
	}
	if *days >= 0 {
		cfg.Dreaming.InitialLookbackDays = *days
	}

	orch := dreaming.NewOrchestrator(runtimeDir, cfg, *dryRun, nil)
	if *connector != "" {
		orch.SetConnectorFilter([]string{*connector})
	}
	if *module != "" {
		orch.SetPromptFilter([]string{*module})
	}
	if *limit > 0 {
		orch.SetConversationLimit(*limit)
	}
	if !*quiet {
		token := orch.Stream().Subscribe(printEvent)
		defer orch.Stream().Unsubscribe(token)
	}

	fmt.Println("Starting dreaming cycle...")
	if *days >= 0 {
		fmt.Printf("Looking back %d days\n", *days)
	}
	if *dryRun {
		fmt.Println("Dry run mode - no changes will be made")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	result := orch.Run(ctx)
	printResult(result)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

// firstRun reports whether every selected connector still lacks a processing
// cursor.
func firstRun(runtimeDir string, cfg *config.Config, only string) bool {
	ids := cfg.Enabled.Connectors
	if only != "" {
		ids = []string{only}
	}
	if len(ids) == 0 {
		return false
	}
	state := storage.NewStateStore(runtimeDir)
	for _, id := range ids {
		if state.ConnectorState(id).LastProcessed != nil {
			return false
		}
	}
	return true
}

func promptLookbackDays(fallback int) int {
	fmt.Println("First run detected. How many days of history should be analyzed?")
	fmt.Println("More days means a more complete picture but a slower, more expensive cycle.")
	fmt.Printf("Days to look back [%d]: ", fallback)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 0 {
		fmt.Printf("Using default of %d days\n", fallback)
		return fallback
	}
	return n
}

func printEvent(e events.AgentEvent) {
	icon, ok := eventIcons[e.Type]
	if !ok {
		icon = "."
	}
	fmt.Printf("[%s] %s %s\n", e.AgentID, icon, e.Summary)
}

func printResult(result *dreaming.Result) {
	fmt.Println()
	switch {
	case !result.Success:
		fmt.Printf("Dreaming cycle failed: %s\n", result.Error)
	case result.NoNewConversations:
		fmt.Println("No new conversations to analyze.")
		fmt.Printf("  Duration: %.1fs\n", result.DurationSeconds)
	default:
		fmt.Println("Dreaming cycle completed!")
		fmt.Printf("  Conversations analyzed: %d\n", result.ConversationsAnalyzed)
		fmt.Printf("  Issues found: %d\n", result.IssuesFound)
		fmt.Printf("  Resolutions generated: %d\n", result.ResolutionsGenerated)
		fmt.Printf("  Duration: %.1fs\n", result.DurationSeconds)
		printStatistics(result.Statistics)
		if len(result.ResolutionFiles) > 0 {
			fmt.Println()
			fmt.Println("Resolution files:")
			for _, path := range result.ResolutionFiles {
				fmt.Printf("  %s\n", path)
			}
		}
	}
}

func printStatistics(stats dreaming.Statistics) {
	if stats.TotalTokens() == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Token Statistics:")
	fmt.Printf("  Input tokens:       %d\n", stats.InputTokens)
	fmt.Printf("  Output tokens:      %d\n", stats.OutputTokens)
	if stats.CacheReadTokens > 0 {
		fmt.Printf("  Cache read tokens:  %d\n", stats.CacheReadTokens)
	}
	if stats.CacheWriteTokens > 0 {
		fmt.Printf("  Cache write tokens: %d\n", stats.CacheWriteTokens)
	}
	fmt.Printf("  Estimated cost:   $%.4f\n", stats.CostUSD())
}
