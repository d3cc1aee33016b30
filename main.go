// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/app"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/storage"
	"github.com/petervdpas/goopcall/internal/util"
	"github.com/petervdpas/goopcall/internal/viewer"
)

const configName = "goopcall.json"

var log = logging.Logger("goopcall")

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	openUI   = flag.Bool("open", false, "Open the control API in a browser once it is up")
	limit    = flag.Int("n", 20, "Number of history rows to print")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("goopcall v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 2 {
		showUsage()
		os.Exit(1)
	}

	command, dir := args[0], peerDir(args[1])

	switch command {
	case "peer":
		runCLIPeer(dir)

	case "history":
		runCLIHistory(dir)

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func peerDir(arg string) string {
	absDir, err := filepath.Abs(arg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Cannot create peer directory: %v", err)
	}
	return absDir
}

func runCLIPeer(absDir string) {
	if err := config.LoadDotEnv(filepath.Join(absDir, ".env")); err != nil {
		log.Warnf("Ignoring .env: %v", err)
	}

	cfgPath := filepath.Join(absDir, configName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Wrote default config to %s\n", cfgPath)
	}

	printPeerBanner(absDir, cfgPath, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *openUI && cfg.Viewer.HTTPAddr != "" {
		go openWhenUp(cfg.Viewer.HTTPAddr)
	}

	if err := app.Run(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
		Logs:    viewer.NewLogBuffer(2000),
	}); err != nil {
		log.Fatalf("Peer failed: %v", err)
	}
}

func openWhenUp(httpAddr string) {
	addr, url := app.NormalizeLocalViewer(httpAddr)
	if err := app.WaitTCP(addr, 15*time.Second); err != nil {
		log.Warnf("Control API not reachable: %v", err)
		return
	}
	if err := util.OpenURL(url + "/api/call/state"); err != nil {
		log.Warnf("Cannot open browser: %v", err)
	}
}

func runCLIHistory(absDir string) {
	cfgPath := filepath.Join(absDir, configName)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.History.Driver == "" {
		fmt.Println("Call history is disabled for this peer.")
		return
	}

	dsn := cfg.History.DSN
	if cfg.History.Driver == storage.DriverSQLite {
		dsn = util.ResolvePath(absDir, dsn)
	}
	db, err := storage.Open(cfg.History.Driver, dsn)
	if err != nil {
		log.Fatalf("Failed to open history: %v", err)
	}
	defer db.Close()

	recs, err := storage.NewHistoryStore(db).List(context.Background(), *limit)
	if err != nil {
		log.Fatalf("Failed to read history: %v", err)
	}
	if len(recs) == 0 {
		fmt.Println("No calls yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tCALLER\tRECEIVER\tSTATUS\tDURATION")
	for _, r := range recs {
		dur := "-"
		if r.DurationSeconds != nil {
			dur = (time.Duration(*r.DurationSeconds) * time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), short(r.Caller), short(r.Receiver), r.Status, dur)
	}
	_ = w.Flush()
}

func short(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:6] + "…" + id[len(id)-6:]
}

func showUsage() {
	fmt.Println("goopcall - peer-to-peer calls")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goopcall [options] peer <directory>      Run a call peer")
	fmt.Println("  goopcall [options] history <directory>   Print the peer's call history")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  peer <directory>")
	fmt.Println("        Run a call peer from the specified directory")
	fmt.Println("        A default " + configName + " is written when none exists")
	fmt.Println()
	fmt.Println("  history <directory>")
	fmt.Println("        Print the most recent calls recorded by the peer")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -open     Open the control API in a browser (peer)")
	fmt.Println("  -n N      Number of rows to print (history, default 20)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  goopcall peer ./peers/alice")
	fmt.Println("  goopcall -n 50 history ./peers/alice")
}

func printPeerBanner(peerDir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                    goopcall Peer                       ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Peer Directory: %s\n", peerDir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	if cfg.Identity.Name != "" {
		fmt.Printf("Peer Name:      %s\n", cfg.Identity.Name)
	}
	fmt.Printf("Signaling:      %s\n", cfg.Signaling.Transport)
	fmt.Println()

	if cfg.Viewer.HTTPAddr != "" {
		_, url := app.NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		fmt.Printf("Control API:    %s/api/call/state\n", url)
		fmt.Println()
	}

	fmt.Println("Starting peer... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
