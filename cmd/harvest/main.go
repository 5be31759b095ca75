package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/config"
	"github.com/Sriram-PR/harvest/pkg/crawler"
	"github.com/Sriram-PR/harvest/pkg/storage"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

const (
	version = "1.0.0"

	// shutdownGrace bounds how long an interrupted crawl may take to stop and save
	shutdownGrace = 30 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:], false)
	case "resume":
		runCrawl(os.Args[2:], true)
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("harvest %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `harvest - Multithreaded website crawler

Usage:
  harvest <command> [options]

Commands:
  crawl       Start a new crawl from the configured seed URL
  resume      Resume the most recently saved session
  validate    Validate configuration file
  version     Show version info

Run 'harvest <command> -h' for command-specific help.`)
}

// crawlOptions carries the parsed flags of the crawl and resume subcommands
type crawlOptions struct {
	configFile string
	logLevel   string
	pprofAddr  string
	resume     bool
	fresh      bool
}

// runCrawl handles both crawl and resume subcommands
func runCrawl(args []string, isResume bool) {
	cmdName := "crawl"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	fresh := false
	if !isResume {
		fs.BoolVar(&fresh, "fresh", false, "Discard the state database (cache and saved sessions) before crawling")
	}

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: harvest %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  harvest %s -config site.yaml\n", cmdName)
		fmt.Fprintf(os.Stderr, "  harvest %s -config site.yaml -loglevel debug\n", cmdName)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(executeCrawl(crawlOptions{
		configFile: *configFile,
		logLevel:   *logLevel,
		pprofAddr:  *pprofAddr,
		resume:     isResume,
		fresh:      fresh,
	}))
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: harvest validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	fmt.Fprintf(stdout, "OK: project '%s' seeded at %s (%d crawlers, %d fetchers)\n",
		appCfg.ProjectName, appCfg.SeedURL, appCfg.NumCrawlers, appCfg.NumFetchers)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Infof("Setting log level to: %s", level.String())
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range appWarnings {
		log.Warn(w)
	}

	return appCfg, nil
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		runtime.SetBlockProfileRate(1000)
		runtime.SetMutexProfileFraction(1000)
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// prepare seeds a new crawl, or loads the latest saved session into the
// coordinator when resuming
func prepare(coord *crawler.Coordinator, appCfg *config.AppConfig, sessions storage.SessionStore, resume bool, log *logrus.Logger) error {
	if !resume {
		if !coord.Configure(appCfg.SeedURL) {
			return fmt.Errorf("%w: seed URL %q rejected", utils.ErrConfigValidation, appCfg.SeedURL)
		}
		return nil
	}

	sessionID, found, err := sessions.LatestSession()
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no saved session for project '%s'", utils.ErrNotFound, appCfg.ProjectName)
	}
	snap, err := sessions.LoadSnapshot(sessionID)
	if err != nil {
		return err
	}
	log.Infof("Resuming session %s (%d URLs known, %d files saved)", sessionID, len(snap.URLs), len(snap.Saved))
	return coord.Restart(snap)
}

// handleSignals terminates the crawl on SIGINT/SIGTERM. A second signal, or
// a stop that outlasts shutdownGrace, exits the process. The returned func
// detaches the handler.
func handleSignals(coord *crawler.Coordinator, log *logrus.Logger) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()

		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Terminating crawl and saving session...", sig)
			go coord.TerminateThreads()
		case <-done:
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(shutdownGrace):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// executeCrawl runs one crawl or resume and returns the process exit code
func executeCrawl(opts crawlOptions) int {
	log := setupLogger(opts.logLevel)
	appCfg, err := loadAndValidateConfig(opts.configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)
	startPprof(opts.pprofAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("Initializing components...")
	logEntry := log.WithField("component", "harvest")

	// --- Storage ---
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, appCfg.ProjectName, opts.fresh && !opts.resume, logEntry)
	if err != nil {
		log.Errorf("Failed to open state DB: %v", err)
		return 1
	}
	defer store.Close()
	log.Infof("State DB ready with %d cached URL(s)", store.CacheCount())

	go store.RunGC(ctx, appCfg.DBGCInterval)

	// --- Coordinator ---
	coord := crawler.New(appCfg, crawler.Options{Cache: store, Sessions: store}, logEntry)
	if err := prepare(coord, appCfg, store, opts.resume, log); err != nil {
		log.Errorf("Failed to start crawl: %v", err)
		return 1
	}

	stopSignals := handleSignals(coord, log)
	defer stopSignals()

	err = coord.Crawl()

	// Anything short of natural completion leaves work to resume
	if coord.ExitReason() != "completed" {
		if saveErr := coord.SaveState(); saveErr != nil {
			log.Errorf("Failed to save session: %v", saveErr)
		} else {
			log.Infof("Session %s saved. Continue with: harvest resume -config %s", coord.SessionID(), opts.configFile)
		}
	}

	if err != nil {
		switch {
		case errors.Is(err, utils.ErrLimitReached):
			log.Warnf("Crawl stopped at a configured limit: %v", err)
		case errors.Is(err, utils.ErrStale):
			log.Errorf("Crawl aborted: %v", err)
		default:
			log.Errorf("Crawl finished with error: %v", err)
		}
		return 1
	}

	log.Infof("Crawl finished (%s).", coord.ExitReason())
	return 0
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: Project:%s, Seed:%s, SingleThreaded:%t",
		appCfg.ProjectName, appCfg.SeedURL, appCfg.SingleThreaded)
	log.Infof("Config Workers: Crawlers:%d, Fetchers:%d, MaxConnections:%d, MaxPerHost:%d",
		appCfg.NumCrawlers, appCfg.NumFetchers, appCfg.MaxConnections, appCfg.Politeness.MaxRequestsPerHost)
	log.Infof("Config Dirs: Output:%s, State:%s", appCfg.OutputBaseDir, appCfg.StateDir)
	log.Infof("Config Limits: Time:%v, Files:%d, ProjectTimeout:%v, FetcherTimeout:%v, MaxRegenerations:%d",
		appCfg.TimeLimit, appCfg.MaxFiles, appCfg.ProjectTimeout, appCfg.FetcherTimeout, appCfg.MaxRegenerations)
	log.Infof("Config Rules: MaxDepth:%d, Domains:%v, External:%t, Robots:%t",
		appCfg.Rules.MaxDepth, appCfg.Rules.AllowedDomains, appCfg.Rules.FetchExternal, appCfg.Rules.EffectiveRespectRobots())
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost)
}
