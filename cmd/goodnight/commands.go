package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/daemon"
)

func cmdStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	foreground := fs.Bool("foreground", false, "run in the foreground instead of detaching")
	_ = fs.Parse(args)

	runtimeDir, err := daemon.InitRuntimeDir("")
	if err != nil {
		return err
	}
	pidFile := daemon.NewPIDFile(runtimeDir)
	if pid, running := pidFile.Running(); running {
		return fmt.Errorf("daemon is already running (pid %d)", pid)
	}

	if *foreground {
		fmt.Println("Starting Good Night daemon in foreground...")
		d, err := daemon.New(runtimeDir, true)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return d.Run(ctx)
	}

	fmt.Println("Starting Good Night daemon...")

	// Detached start re-execs this binary in a new session. The child runs
	// the daemon loop directly, so there is no double-fork recursion.
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}
	child := exec.Command(exe, "start", "-foreground")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	_ = child.Process.Release()

	// Give the child a moment to write its PID file or die trying.
	time.Sleep(time.Second)
	if pid, running := pidFile.Running(); running {
		fmt.Printf("Daemon started with PID %d\n", pid)
		return nil
	}
	return fmt.Errorf("daemon failed to start, check %s", filepath.Join(runtimeDir, "logs", "daemon.log"))
}

func cmdStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	force := fs.Bool("force", false, "SIGKILL instead of SIGTERM")
	_ = fs.Parse(args)

	runtimeDir, err := daemon.InitRuntimeDir("")
	if err != nil {
		return err
	}
	pidFile := daemon.NewPIDFile(runtimeDir)
	pid, running := pidFile.Running()
	if !running {
		return errors.New("daemon is not running")
	}
	if _, err := pidFile.Stop(*force); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}
	fmt.Printf("Daemon (PID %d) stopped.\n", pid)
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_ = fs.Parse(args)

	runtimeDir, err := daemon.InitRuntimeDir("")
	if err != nil {
		return err
	}
	cfg, err := config.Load(runtimeDir)
	if err != nil {
		return err
	}
	pid, running := daemon.NewPIDFile(runtimeDir).Running()

	fmt.Println("Good Night Status")
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if running {
		fmt.Fprintln(w, "  Status\tRunning")
		fmt.Fprintf(w, "  PID\t%d\n", pid)
	} else {
		fmt.Fprintln(w, "  Status\tStopped")
	}
	fmt.Fprintf(w, "  Runtime Dir\t%s\n", runtimeDir)
	fmt.Fprintf(w, "  Provider\t%s\n", cfg.Provider.Default)
	fmt.Fprintf(w, "  Dream Interval\t%ds\n", cfg.Daemon.DreamInterval)
	fmt.Fprintf(w, "  API Enabled\t%t\n", cfg.API.Enabled)
	fmt.Fprintf(w, "  API Port\t%d\n", cfg.API.Port)
	return w.Flush()
}

func cmdConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	_ = fs.Parse(args)

	action := fs.Arg(0)
	if action == "" {
		action = "show"
	}

	runtimeDir, err := daemon.InitRuntimeDir("")
	if err != nil {
		return err
	}
	path := filepath.Join(runtimeDir, "config.yaml")

	switch action {
	case "show":
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.New("no configuration file found, run any command to seed defaults")
			}
			return err
		}
		fmt.Print(string(data))
		return nil

	case "edit":
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vim"
		}
		cmd := exec.Command(editor, path)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()

	case "reset":
		if !confirm("Reset configuration to defaults? [y/N]: ") {
			fmt.Println("Cancelled.")
			return nil
		}
		if _, err := os.Stat(path); err == nil {
			backup := path + ".bak"
			if err := os.Rename(path, backup); err != nil {
				return fmt.Errorf("backing up config: %w", err)
			}
			fmt.Printf("Backed up existing config to %s\n", backup)
		}
		if err := daemon.CopyDefaults(runtimeDir); err != nil {
			return fmt.Errorf("restoring defaults: %w", err)
		}
		fmt.Println("Configuration reset to defaults.")
		return nil

	default:
		return fmt.Errorf("unknown config action %q, expected show, edit, or reset", action)
	}
}

func cmdLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	follow := fs.Bool("follow", false, "keep printing new log lines")
	n := fs.Int("n", 50, "number of trailing lines to show")
	_ = fs.Parse(args)

	runtimeDir, err := daemon.InitRuntimeDir("")
	if err != nil {
		return err
	}
	path := filepath.Join(runtimeDir, "logs", "daemon.log")
	if _, err := os.Stat(path); err != nil {
		return errors.New("no log file found, has the daemon run yet?")
	}

	end, err := printTail(path, *n)
	if err != nil {
		return err
	}
	if !*follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return followLog(ctx, path, end)
}

// printTail prints the last n lines of the file and returns its size, which
// followLog uses as the offset to resume from.
func printTail(path string, n int) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		if line != "" {
			fmt.Println(line)
		}
	}
	return int64(len(data)), nil
}

// followLog polls the file for growth past offset until the context is
// cancelled. Truncation (e.g. log rotation) restarts from the beginning.
func followLog(ctx context.Context, path string, offset int64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() < offset {
			offset = 0
		}
		if info.Size() == offset {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			fmt.Println(sc.Text())
		}
		// The scanner drains to EOF, so the current position is the exact
		// resume point even if the file grew after the Stat above.
		if end, err := f.Seek(0, io.SeekCurrent); err == nil {
			offset = end
		}
		f.Close()
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
