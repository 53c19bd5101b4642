package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/titlesentinel/internal/agent"
	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/cdp"
	"github.com/lotas/titlesentinel/internal/config"
	"github.com/lotas/titlesentinel/internal/export"
	"github.com/lotas/titlesentinel/internal/loop"
	"github.com/lotas/titlesentinel/internal/page"
	"github.com/lotas/titlesentinel/internal/pipeline"
	"github.com/lotas/titlesentinel/internal/scan"
	"github.com/lotas/titlesentinel/internal/sentinel"
	"github.com/lotas/titlesentinel/internal/server"
	"github.com/lotas/titlesentinel/internal/session"
	"github.com/lotas/titlesentinel/internal/storage"
	"github.com/lotas/titlesentinel/internal/tui"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "attach":
			runAttach(os.Args[2:])
			return
		case "inspect":
			runInspect(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "config":
			runConfig(os.Args[2:])
			return
		case "agent":
			runAgent(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}
	runBridge(os.Args[1:])
}

func printHelp() {
	fmt.Print(`titlesentinel: keeps Gemini tab titles on the conversation

Usage:
  titlesentinel                                  Serve the page agent bridge with the TUI (default)
    --config <file>        YAML config file (env: TITLESENTINEL_CONFIG)
    --port <n>             WebSocket port (default: 19191)
    --headless             No TUI, log to the data dir only
    --verbose              Write debug events to the log

  titlesentinel attach                           Drive a Chrome tab over the DevTools protocol
    --debugger-url <url>   ws:// or http://host:port of a running Chrome
    --launch               Launch Chrome at the match URL instead of attaching
    --config, --headless, --verbose as above

  titlesentinel inspect <file.html>              Run the pipeline over a saved page
  titlesentinel export <file.html>               Export the conversation index
    --json                 Export as JSON instead of markdown
    --out <file>           Output file path (default: stdout)

  titlesentinel history                          Show the title journal
    --url <url>            Only this conversation
    --kind <kind>          Only derived, enforced, recovered or reset events
    --limit <n>            Number of events (default: 20)
    --conversations        List conversations instead of events
    --prune <days>         Delete events older than this many days
    --yes                  Skip the prune confirmation

  titlesentinel config                           Print the effective configuration
  titlesentinel agent                            Print the userscript for the bridge

Environment:
  TITLESENTINEL_CONFIG        Config file (overridden by --config)
  TITLESENTINEL_PORT          WebSocket port (overridden by --port)
  TITLESENTINEL_DATA_DIR      Log and journal directory (default: ~/.local/share/titlesentinel)
  TITLESENTINEL_DEBUGGER_URL  Chrome debugger URL for attach
`)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadConfig layers flags over env, file and defaults, then validates.
func loadConfig(path string, port int) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	if port != 0 {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	return cfg
}

func startLogging(cfg config.Config, verbose bool) {
	if err := applog.Init(cfg.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	applog.SetVerbose(verbose)
}

func openDB(cfg config.Config) (*sql.DB, error) {
	return storage.OpenDB(storage.DBPath(cfg.DataDir))
}

// serve runs the session and the transport, with the TUI unless headless.
func serve(ctx context.Context, sess *session.Session, transport func(context.Context) error, source string, headless bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return transport(gctx) })
	g.Go(func() error { return sess.Run(gctx) })

	waitErr := make(chan error, 1)
	tuiDone := make(chan error, 1)
	go func() {
		err := g.Wait()
		waitErr <- err
		tuiDone <- err
	}()

	if headless {
		fmt.Fprintf(os.Stderr, "%s, press Ctrl+C to stop\n", source)
		return <-waitErr
	}

	p := tea.NewProgram(tui.NewModel(sess.Status(), sess, source, tuiDone), tea.WithAltScreen())
	_, err := p.Run()
	stop()
	if werr := <-waitErr; err == nil {
		err = werr
	}
	return err
}

func runBridge(args []string) {
	fs := flag.NewFlagSet("titlesentinel", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	port := fs.Int("port", 0, "WebSocket port for the page agent")
	headless := fs.Bool("headless", false, "Run without the TUI")
	verbose := fs.Bool("verbose", false, "Write debug events to the log")
	fs.Parse(args)

	cfg := loadConfig(*configPath, *port)
	startLogging(cfg, *verbose)
	defer applog.Close()

	db, err := openDB(cfg)
	if err != nil {
		fatal(fmt.Errorf("open journal: %w", err))
	}
	defer db.Close()

	srv := server.New(cfg.Port)
	sess, err := session.New(cfg, srv, storage.NewJournal(db, 0))
	if err != nil {
		fatal(err)
	}

	source := fmt.Sprintf("bridge ws://127.0.0.1:%d/", cfg.Port)
	if err := serve(context.Background(), sess, srv.ListenAndServe, source, *headless); err != nil {
		fatal(err)
	}
}

func runAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	debuggerURL := fs.String("debugger-url", "", "Chrome debugger URL")
	launch := fs.Bool("launch", false, "Launch Chrome instead of attaching")
	headless := fs.Bool("headless", false, "Run without the TUI")
	verbose := fs.Bool("verbose", false, "Write debug events to the log")
	fs.Parse(args)

	cfg := loadConfig(*configPath, 0)
	if *debuggerURL != "" {
		cfg.DebuggerURL = *debuggerURL
	}
	if cfg.DebuggerURL == "" && !*launch {
		fatal(errors.New("no debugger URL: pass --debugger-url, set TITLESENTINEL_DEBUGGER_URL or use --launch"))
	}
	startLogging(cfg, *verbose)
	defer applog.Close()

	db, err := openDB(cfg)
	if err != nil {
		fatal(fmt.Errorf("open journal: %w", err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tr *cdp.Transport
	if *launch {
		tr, err = cdp.Launch(ctx, cfg.MatchURL, false)
	} else {
		tr, err = cdp.Attach(ctx, cfg.DebuggerURL, cfg.MatchURL)
	}
	if err != nil {
		fatal(err)
	}
	defer tr.Close()

	sess, err := session.New(cfg, tr, storage.NewJournal(db, 0))
	if err != nil {
		fatal(err)
	}
	if err := serve(ctx, sess, tr.Run, "cdp "+cfg.MatchURL, *headless); err != nil {
		fatal(err)
	}
}

// staticHost is the document title of a saved page.
type staticHost struct {
	title string
	ok    bool
}

func (h *staticHost) Title() (string, bool) { return h.title, h.ok }

func (h *staticHost) SetTitle(t string) error {
	h.title, h.ok = t, true
	return nil
}

type offlineResult struct {
	res       scan.Result
	hostTitle string
	derived   string
	tabTitle  string
}

// runOffline runs one pipeline pass over a saved page.
func runOffline(cfg config.Config, path string) (offlineResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return offlineResult{}, err
	}
	defer f.Close()

	abs, _ := filepath.Abs(path)
	doc, err := page.Parse(f, "file://"+abs)
	if err != nil {
		return offlineResult{}, fmt.Errorf("parse %s: %w", path, err)
	}
	scanner, err := scan.NewScanner(cfg.ScanRules())
	if err != nil {
		return offlineResult{}, err
	}

	title, ok := doc.Title()
	host := &staticHost{title: title, ok: ok}
	sched := loop.NewManual()
	rec := sentinel.New(host, sched, cfg.Reconciler())
	pipe := pipeline.New(scanner, rec, nil, nil)
	res := pipe.Apply(doc)
	sched.Drain()

	return offlineResult{res: res, hostTitle: title, derived: rec.DerivedTitle(), tabTitle: host.title}, nil
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	fs.Parse(reorderArgs(args))
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: titlesentinel inspect <file.html>")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath, 0)
	out, err := runOffline(cfg, fs.Arg(0))
	if err != nil {
		fatal(err)
	}

	strategy := out.res.Strategy
	if strategy == "" {
		strategy = "(none matched)"
	}
	fmt.Printf("Strategy:      %s\n", strategy)
	fmt.Printf("Page title:    %s\n", out.hostTitle)
	fmt.Printf("Derived title: %s\n", out.derived)
	fmt.Printf("Tab title:     %s\n", out.tabTitle)
	fmt.Printf("Signature:     %s\n", out.res.Index.Signature)
	if out.res.Index.Empty {
		fmt.Printf("\n%s\n", pipeline.PlaceholderText)
		return
	}
	fmt.Printf("\nMessages (%d):\n", len(out.res.Index.Entries))
	for _, e := range out.res.Index.Entries {
		fmt.Printf("  %3d  %-12s %s\n", e.Index, e.Locator, strings.ReplaceAll(e.DisplayText, "\n", " "))
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	jsonFlag := fs.Bool("json", false, "Export as JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fs.Parse(reorderArgs(args, "json"))
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: titlesentinel export <file.html> [--json] [--out file]")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath, 0)
	out, err := runOffline(cfg, fs.Arg(0))
	if err != nil {
		fatal(err)
	}
	conv := export.Conversation{
		Title:    out.derived,
		Strategy: out.res.Strategy,
		Index:    out.res.Index,
	}

	var output string
	if *jsonFlag {
		output, err = export.JSON(conv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		output = export.Markdown(conv)
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(output)
	}
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	url := fs.String("url", "", "Only this conversation")
	kind := fs.String("kind", "", "Only this event kind")
	limit := fs.Int("limit", 20, "Number of events")
	conversations := fs.Bool("conversations", false, "List conversations instead of events")
	pruneDays := fs.Int("prune", 0, "Delete events older than this many days")
	yes := fs.Bool("yes", false, "Skip confirmation")
	fs.Parse(args)

	cfg := loadConfig(*configPath, 0)
	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch {
	case *pruneDays > 0:
		if !*yes {
			fmt.Printf("Delete journal events older than %d days? [y/N] ", *pruneDays)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.TrimSpace(strings.ToLower(answer))
			if answer != "y" && answer != "yes" {
				fmt.Println("Aborted.")
				return
			}
		}
		n, err := storage.PruneEvents(db, time.Now().AddDate(0, 0, -*pruneDays))
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Deleted %d events.\n", n)

	case *conversations:
		convs, err := storage.ListConversations(db, *limit)
		if err != nil {
			fatal(err)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations recorded yet.")
			return
		}
		for _, c := range convs {
			fmt.Printf("%-50s %4d events  last %s  %s\n", c.Title, c.EventCount, c.LastSeenAt.Local().Format("2006-01-02 15:04"), c.URL)
		}

	default:
		rows, err := storage.ListEvents(db, storage.EventFilter{URL: *url, Kind: *kind, Limit: *limit})
		if err != nil {
			fatal(err)
		}
		if len(rows) == 0 {
			fmt.Println("No events recorded yet.")
			return
		}
		fmt.Print(export.History(rows))
	}
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath, 0)
	data, err := cfg.Marshal()
	if err != nil {
		fatal(err)
	}
	os.Stdout.Write(data)
}

func runAgent(args []string) {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	port := fs.Int("port", 0, "WebSocket port the userscript connects to")
	fs.Parse(args)

	cfg := loadConfig(*configPath, *port)
	fmt.Print(agent.Userscript(cfg.MatchURL, cfg.Port))
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
// Flags named in boolFlags never take the following argument as a value.
func reorderArgs(args []string, boolFlags ...string) []string {
	isBool := make(map[string]bool, len(boolFlags))
	for _, f := range boolFlags {
		isBool[f] = true
	}
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			name := strings.TrimLeft(args[i], "-")
			if isBool[name] || strings.Contains(name, "=") {
				continue
			}
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
