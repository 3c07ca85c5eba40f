// Command stylesync runs the DevTools-to-source-file style propagation
// agent: it attaches to a running Chrome tab, watches for CSS edits made
// through DevTools, and writes the equivalent change back into the
// project's CSS/SCSS source files.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thought-machine/go-flags"

	"stylesync/internal/cdpsession"
	"stylesync/internal/config"
	"stylesync/internal/logging"
	"stylesync/internal/orchestrator"
)

var opts = struct {
	DevServerBase string   `short:"u" long:"dev-server-base" required:"true" description:"URL prefix used to find the browser tab and anchor file resolution"`
	ChromeHost    string   `long:"chrome-host" default:"localhost" description:"CDP debug host"`
	ChromePort    int      `short:"p" long:"chrome-port" description:"CDP debug port (default: probe 9222, 9333, 9229, 9230)"`
	ProjectRoot   string   `short:"r" long:"project-root" description:"Project root directory (default: current directory)"`
	Mapping       []string `short:"m" long:"mapping" description:"URL-prefix=local-prefix rule, consulted before built-in resolution"`
	LoopGuardTTL  int      `long:"loop-guard-ttl-ms" default:"2000" description:"Self-write suppression window, in milliseconds"`
	Verbose       bool     `short:"v" long:"verbose" description:"Emit diagnostic log lines"`
}{}

func main() {
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		os.Exit(1)
	}

	log := logging.New(opts.Verbose)

	cfg, err := buildConfig()
	if err != nil {
		log.Fatal("stylesync: invalid configuration: %v", err)
	}

	port, err := probeChromePort(cfg)
	if err != nil {
		log.Fatal("stylesync: %v", err)
	}
	cfg.ChromePort = port

	orc := orchestrator.New(cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = orc.Start(ctx)
	cancel()
	if err != nil {
		if fatal, ok := err.(*cdpsession.FatalConnectError); ok {
			log.Fatal("stylesync: could not reach Chrome's debug port %d — start Chrome with --remote-debugging-port=%d or pass --chrome-port: %v",
				fatal.Port, fatal.Port, fatal.Err)
		}
		if notFound, ok := err.(*cdpsession.TargetNotFoundError); ok {
			log.Error("stylesync: no open tab matches %q. Open tabs:", notFound.URLPrefix)
			for _, tab := range notFound.Tabs {
				log.Error("  - %s", tab)
			}
			os.Exit(1)
		}
		log.Fatal("stylesync: startup failed: %v", err)
	}

	log.Banner("\nstylesync  agent ready")
	log.Banner("  watching %s", cfg.DevServerBase)
	log.Banner("  project root: %s\n", cfg.ProjectRoot)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Fprintln(os.Stderr, "\nshutting down...")
	orc.Shutdown()
	os.Exit(0)
}

// probeChromePort returns cfg's configured port unchanged, or probes
// config.DefaultChromePorts in order (GET /json/version) and returns the
// first that answers.
func probeChromePort(cfg config.Config) (int, error) {
	candidates := cfg.CandidatePorts()
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	client := http.Client{Timeout: 500 * time.Millisecond}
	for _, port := range candidates {
		resp, err := client.Get(fmt.Sprintf("http://%s:%d/json/version", cfg.ChromeHost, port))
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no Chrome debug port found among %v — start Chrome with --remote-debugging-port", candidates)
}

func buildConfig() (config.Config, error) {
	cfg := config.Config{
		DevServerBase: opts.DevServerBase,
		ChromeHost:    opts.ChromeHost,
		ChromePort:    opts.ChromePort,
		ProjectRoot:   opts.ProjectRoot,
		LoopGuardTTL:  time.Duration(opts.LoopGuardTTL) * time.Millisecond,
		Verbose:       opts.Verbose,
	}

	for _, raw := range opts.Mapping {
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return config.Config{}, fmt.Errorf("mapping %q must be in URL-prefix=local-prefix form", raw)
		}
		cfg.Mappings = append(cfg.Mappings, config.Mapping{URLPrefix: parts[0], LocalPrefix: parts[1]})
	}

	cfg, err := cfg.WithDefaults()
	if err != nil {
		return config.Config{}, err
	}

	info, err := os.Stat(cfg.ProjectRoot)
	if err != nil || !info.IsDir() {
		return config.Config{}, fmt.Errorf("project root %q is not a directory", cfg.ProjectRoot)
	}

	return cfg, nil
}
