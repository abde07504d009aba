package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	forwardcache "github.com/always-cache/forward-cache"
	"github.com/always-cache/forward-cache/admin"
	"github.com/always-cache/forward-cache/cache"
	"github.com/always-cache/forward-cache/journal"
	"github.com/always-cache/forward-cache/localcontent"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// CLI flags
	configFilenameFlag  string
	docRootFlag         string
	adminAddrFlag       string
	journalFilenameFlag string
	logFilenameFlag     string
	verbosityTraceFlag  bool

	// this is set by goreleaser
	version string
)

const defaultDocRoot = "."

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&docRootFlag, "docroot", defaultDocRoot, "Directory served for requests to the proxy itself")
	flag.StringVar(&adminAddrFlag, "admin", "", "Listen address of the admin API (disabled if empty)")
	flag.StringVar(&journalFilenameFlag, "journal", "", "Request journal DB file name (use 'memory' for in-memory db, disabled if empty)")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")

	flag.Usage = usage

	if version == "" {
		version = "DEV"
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <port>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	port, err := parsePort(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(flag.CommandLine.Output(), err)
		usage()
		os.Exit(1)
	}

	config := forwardcache.FileConfig{}
	if configFilenameFlag != "" {
		if config, err = forwardcache.ReadConfigFile(configFilenameFlag); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	config = mergeFlags(config, explicit)

	logFile, err := setupLogging(config.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = run(port, config)
	if err != nil {
		log.Error().Err(err).Msg("Proxy stopped")
	} else {
		log.Info().Msg("Shut down")
	}
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// run serves until an interrupt or a fatal error.
func run(port int, config forwardcache.FileConfig) error {
	local, err := localcontent.NewLocal(config.DocRoot)
	if err != nil {
		return err
	}
	local.WithLogger(log.Logger)

	var j *journal.Journal
	if config.Journal != "" {
		if j, err = journal.Open(config.Journal); err != nil {
			return err
		}
		defer j.Close()
	}

	objectCache := cache.New(cache.WithLogger(log.Logger))
	proxyConfig := forwardcache.Config{
		Cache:         objectCache,
		Local:         local,
		Logger:        &log.Logger,
		OriginTimeout: config.OriginTimeout,
		ClientTimeout: config.ClientTimeout,
	}
	// a nil *journal.Journal must not end up in the interface
	if j != nil {
		proxyConfig.Journal = j
	}
	proxy := forwardcache.CreateProxy(proxyConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	log.Info().Msgf("Proxying on port %d, serving local content from %s", port, local.Root())
	g.Go(func() error {
		return proxy.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	})

	if config.Admin != "" {
		server := &http.Server{
			Addr:    config.Admin,
			Handler: admin.NewRouter(admin.Options{Cache: objectCache, Journal: j, Logger: &log.Logger}),
		}
		g.Go(func() error {
			log.Info().Msgf("Admin API on %s", config.Admin)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrapf(err, errors.CodeNetwork, "admin API on %s failed", config.Admin)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// parsePort validates the port argument.
func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, errors.Newf(errors.CodeInvalidInput, "invalid port %q", arg)
	}
	return port, nil
}

// mergeFlags overrides config file values with the flags given on the command line.
func mergeFlags(config forwardcache.FileConfig, explicit map[string]bool) forwardcache.FileConfig {
	if explicit["docroot"] || config.DocRoot == "" {
		config.DocRoot = docRootFlag
	}
	if explicit["admin"] || config.Admin == "" {
		config.Admin = adminAddrFlag
	}
	if explicit["journal"] || config.Journal == "" {
		config.Journal = journalFilenameFlag
	}
	if explicit["log-file"] || config.LogFile == "" {
		config.LogFile = logFilenameFlag
	}
	return config
}

func setupLogging(logFilename string) (*os.File, error) {
	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	var logFile *os.File
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilename != "" {
		var err error
		if logFile, err = os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "cannot open log file %s", logFilename)
		}
		logOutputs = append(logOutputs, logFile)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
	return logFile, nil
}
