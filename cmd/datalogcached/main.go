// datalogcached - Datalog query cache daemon for an autonomous ATProto agent.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/anthropics/datalogcached/internal/atproto"
	"github.com/anthropics/datalogcached/internal/cache"
	"github.com/anthropics/datalogcached/internal/ledger"
	"github.com/anthropics/datalogcached/internal/souffle"
)

const version = "0.1.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version")
		factDir     = flag.String("fact-dir", ".datalogcached/facts", "Directory holding TSV relation files")
		ledgerPath  = flag.String("ledger", "", "Diagnostic event ledger path (default: .datalogcached/events.db)")
		soufflePath = flag.String("souffle", "", "Path to the souffle binary (default: look up souffle on PATH)")
		pdsURL      = flag.String("pds", "https://bsky.social", "ATProto PDS base URL")
		bundlePath  = flag.String("bundle", "", "Optional YAML rule/declaration bundle to import at startup")
		identifier  = flag.String("identifier", os.Getenv("ATPROTO_IDENTIFIER"), "ATProto account identifier")
		password    = flag.String("password", os.Getenv("ATPROTO_PASSWORD"), "ATProto account app password")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `datalogcached v%s - Datalog query cache for an autonomous ATProto agent

Usage: datalogcached [options] <command>

Commands:
  sync     Pull fact/rule/declaration records from the remote repo into the cache
  query    Start an interactive REPL for ad-hoc querying

Options:
`, version)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("datalogcached v%s\n", version)
		return
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *ledgerPath == "" {
		*ledgerPath = ".datalogcached/events.db"
	}
	led, err := ledger.Open(*ledgerPath)
	if err != nil {
		logger.Warn("ledger unavailable, continuing without it", zap.Error(err))
		led = nil
	} else {
		defer led.Close()
	}

	c, err := cache.New(*factDir,
		cache.WithEvaluator(souffle.NewRunner(*soufflePath)),
		cache.WithLedger(led),
		cache.WithLogger(logger),
		cache.WithFactDirWatch(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if *bundlePath != "" {
		bundle, err := cache.LoadBundleFile(*bundlePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := c.ImportBundle(bundle); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger.Info("imported rule/declaration bundle", zap.String("path", *bundlePath), zap.Int("rules", len(bundle.Rules)), zap.Int("declarations", len(bundle.Declarations)))
	}

	switch cmd {
	case "sync":
		client := atproto.New(*pdsURL, atproto.WithLogger(logger))
		if err := runSync(client, c, logger, *identifier, *password); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "query":
		if err := runREPL(c); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	return cfg.Build()
}
