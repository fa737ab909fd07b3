package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/austindbirch/logreplay/internal/accesslog"
	"github.com/austindbirch/logreplay/internal/auth"
	"github.com/austindbirch/logreplay/internal/config"
	"github.com/austindbirch/logreplay/internal/db"
	"github.com/austindbirch/logreplay/internal/health"
	"github.com/austindbirch/logreplay/internal/logging"
	"github.com/austindbirch/logreplay/internal/metrics"
	"github.com/austindbirch/logreplay/internal/publish"
	"github.com/austindbirch/logreplay/internal/replay"
	"github.com/austindbirch/logreplay/internal/report"
	"github.com/austindbirch/logreplay/internal/store"
	"github.com/austindbirch/logreplay/internal/tracing"
	"github.com/austindbirch/logreplay/internal/transport"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play back a converted access log",
	Long: `Play back a converted access log against the target.

Each input line is "unixtime<TAB>path<TAB>latency[<TAB>status]". Requests are
sent at their recorded offset from the first line divided by --speed, and one
result line per request is written in dispatch order.

Examples:
  replayctl convert -i access_log | replayctl run --host staging.internal --port 8080
  replayctl run -i requests.tsv --speed 4 --workers 64 --sqlite results.db
  replayctl run -i requests.tsv --max-rps 200 --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// runFlags maps viper keys to run flags. The keys follow the REPLAY_*
// environment variable names.
var runFlags = map[string]string{
	"target-scheme":          "scheme",
	"target-host":            "host",
	"target-port":            "port",
	"target-request-timeout": "timeout",
	"speed":                  "speed",
	"queue-size":             "queue-size",
	"workers":                "workers",
	"max-rps":                "max-rps",
	"latency-millis":         "latency-millis",
	"input":                  "input",
	"output":                 "output",
	"delimiter":              "delimiter",
	"pg-dsn":                 "pg-dsn",
	"sqlite":                 "sqlite",
	"nsqd-addr":              "nsqd-addr",
	"nsq-topic":              "nsq-topic",
	"nsq-failure-topic":      "nsq-failure-topic",
	"nsq-publish-failures":   "nsq-publish-failures",
	"auth-token":             "auth-token",
	"jwt-private-key":        "jwt-private-key",
	"jwt-secret":             "jwt-secret",
	"jwt-issuer":             "jwt-issuer",
	"jwt-audience":           "jwt-audience",
	"jwt-subject":            "jwt-subject",
	"jwt-ttl":                "jwt-ttl",
	"metrics-addr":           "metrics-addr",
	"log-level":              "log-level",
}

func init() {
	rootCmd.AddCommand(runCmd)

	d := config.Defaults()
	f := runCmd.Flags()
	f.String("scheme", d.Target.Scheme, "url scheme to access")
	f.String("host", d.Target.Host, "hostname to access")
	f.Int("port", d.Target.Port, "port number to access")
	f.Duration("timeout", d.Target.RequestTimeout, "per-request timeout")
	f.Float64("speed", d.Playback.Speed, "playback speed; 2 replays twice as fast")
	f.Int("queue-size", d.Playback.QueueCapacity, "capacity of the task queue")
	f.Int("workers", d.Playback.Workers, "number of concurrent request workers")
	f.Float64("max-rps", d.Playback.MaxRPS, "dispatch rate ceiling in requests per second (0 = unlimited)")
	f.Bool("latency-millis", d.Playback.LatencyMillis, "recorded latency column is in milliseconds instead of microseconds")
	f.StringP("input", "i", d.IO.Input, "input file (- for stdin)")
	f.StringP("output", "o", d.IO.Output, "output file (- for stdout)")
	f.StringP("delimiter", "d", `\t`, "input field delimiter")
	f.String("pg-dsn", "", "store results in PostgreSQL")
	f.String("sqlite", "", "store results in a SQLite file")
	f.String("nsqd-addr", "", "publish results to nsqd (host:4150)")
	f.String("nsq-topic", d.Sinks.ResultsTopic, "NSQ topic for result envelopes")
	f.String("nsq-failure-topic", d.Sinks.FailuresTopic, "NSQ topic for failure envelopes")
	f.Bool("nsq-publish-failures", d.Sinks.PublishFailures, "also publish failures to the failure topic")
	f.String("auth-token", "", "static bearer token sent with every request")
	f.String("jwt-private-key", "", "PEM file used to sign RS256 bearer tokens")
	f.String("jwt-secret", "", "secret used to sign HS256 bearer tokens")
	f.String("jwt-issuer", d.Auth.Issuer, "iss claim of minted tokens")
	f.String("jwt-audience", d.Auth.Audience, "aud claim of minted tokens")
	f.String("jwt-subject", d.Auth.Subject, "sub claim of minted tokens")
	f.Duration("jwt-ttl", d.Auth.TTL, "lifetime of minted tokens")
	f.String("metrics-addr", "", "serve /metrics and /healthz on this address during the run")
	f.String("log-level", d.LogLevel, "minimum log level (debug, info, warn, error)")

	for key, name := range runFlags {
		viper.BindPFlag(key, f.Lookup(name))
	}
}

// loadConfig layers flags and the config file over REPLAY_* environment
// variables and validates the result.
func loadConfig() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}

	str := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	integer := func(key string, dst *int) {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}
	float := func(key string, dst *float64) {
		if viper.IsSet(key) {
			*dst = viper.GetFloat64(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if viper.IsSet(key) {
			*dst = viper.GetBool(key)
		}
	}
	duration := func(key string, dst *time.Duration) {
		if viper.IsSet(key) {
			*dst = viper.GetDuration(key)
		}
	}

	str("target-scheme", &cfg.Target.Scheme)
	str("target-host", &cfg.Target.Host)
	integer("target-port", &cfg.Target.Port)
	duration("target-request-timeout", &cfg.Target.RequestTimeout)
	float("speed", &cfg.Playback.Speed)
	integer("queue-size", &cfg.Playback.QueueCapacity)
	integer("workers", &cfg.Playback.Workers)
	float("max-rps", &cfg.Playback.MaxRPS)
	boolean("latency-millis", &cfg.Playback.LatencyMillis)
	str("input", &cfg.IO.Input)
	str("output", &cfg.IO.Output)
	str("delimiter", &cfg.IO.Delimiter)
	str("pg-dsn", &cfg.Sinks.PostgresDSN)
	str("sqlite", &cfg.Sinks.SQLitePath)
	str("nsqd-addr", &cfg.Sinks.NsqdTCPAddr)
	str("nsq-topic", &cfg.Sinks.ResultsTopic)
	str("nsq-failure-topic", &cfg.Sinks.FailuresTopic)
	boolean("nsq-publish-failures", &cfg.Sinks.PublishFailures)
	str("auth-token", &cfg.Auth.Token)
	str("jwt-private-key", &cfg.Auth.PrivateKeyFile)
	str("jwt-secret", &cfg.Auth.Secret)
	str("jwt-issuer", &cfg.Auth.Issuer)
	str("jwt-audience", &cfg.Auth.Audience)
	str("jwt-subject", &cfg.Auth.Subject)
	duration("jwt-ttl", &cfg.Auth.TTL)
	str("metrics-addr", &cfg.MetricsAddr)
	str("log-level", &cfg.LogLevel)

	cfg.IO.Delimiter = unescapeDelimiter(cfg.IO.Delimiter)
	if verbose {
		cfg.LogLevel = string(logging.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runReplay wires the pipeline for cfg and plays back the input once.
func runReplay(ctx context.Context, cfg config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	logger := logging.New(cfg.AppName)
	logger.SetOutput(stderr)
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	runID := uuid.NewString()
	log := func() *logging.LogEntry { return logger.Plain().WithRun(runID) }

	// Initialize OpenTelemetry tracing
	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	in, err := openInput(cfg.IO.Input, stdin)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := openOutput(cfg.IO.Output, stdout)
	if err != nil {
		return err
	}
	defer out.Close()

	tokens, err := tokenSource(cfg.Auth)
	if err != nil {
		return err
	}
	clientOpts := []transport.Option{
		transport.WithTimeout(cfg.Target.RequestTimeout),
		transport.WithUserAgent(userAgent(cfg.AppName)),
	}
	if tokens != nil {
		clientOpts = append(clientOpts, transport.WithTokenSource(tokens))
	}

	writer := report.NewWriter(out)
	summary := report.NewSummary()
	sinks, pinger, closeSinks, err := openSinks(ctx, cfg, runID, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	sinks = append(report.Multi{writer, summary}, sinks...)

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	opts := []replay.SchedulerOption{
		replay.WithObserver(replay.Observers{replay.NewLogObserver(logger, runID), metrics.Observer{}}),
		replay.WithSinkErrors(func(o replay.Outcome, err error) {
			metrics.RecordSinkError()
			log().WithURL(o.Task.URL).WithField("seq", o.Seq).WithError(err).Error("result sink failed")
		}),
	}
	if cfg.Playback.MaxRPS > 0 {
		opts = append(opts, replay.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.Playback.MaxRPS), 1)))
	}

	scheduler, err := replay.NewScheduler(replay.SchedulerConfig{
		QueueCapacity: cfg.Playback.QueueCapacity,
		Workers:       cfg.Playback.Workers,
		Speed:         cfg.Playback.Speed,
		Target:        cfg.TargetURL,
	}, transport.New(clientOpts...), sinks, opts...)
	if err != nil {
		return err
	}
	metrics.RegisterGauges(reg, scheduler)

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, reg, health.HTTPHandler(runID, scheduler.Progress, pinger), logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log().WithFields(map[string]any{
		"target":  cfg.TargetURL("/"),
		"speed":   cfg.Playback.Speed,
		"workers": cfg.Playback.Workers,
		"queue":   cfg.Playback.QueueCapacity,
	}).Info("replay started")

	reader := accesslog.NewReader(in, cfg.DelimiterRune(), accesslog.WithLatencyMillis(cfg.Playback.LatencyMillis))
	progress, runErr := scheduler.Run(ctx, reader)
	if err := writer.Flush(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("flush output: %w", err))
	}

	entry := log().WithFields(map[string]any{
		"scheduled":  progress.Scheduled,
		"skipped":    progress.Skipped,
		"dispatched": progress.Dispatched,
		"written":    progress.Written,
	})
	if runErr != nil {
		entry.WithError(runErr).Warn("replay stopped early")
	} else {
		entry.Info("replay finished")
	}

	rep := summary.Report()
	if outputJSON {
		err = rep.WriteJSON(stderr)
	} else {
		err = rep.WriteText(stderr)
	}
	if err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("write summary: %w", err))
	}
	return runErr
}

// tokenSource picks the bearer token strategy; nil means no Authorization header.
func tokenSource(a config.Auth) (transport.TokenSource, error) {
	opts := auth.MinterOptions{Issuer: a.Issuer, Audience: a.Audience, Subject: a.Subject, TTL: a.TTL}
	switch {
	case a.PrivateKeyFile != "":
		keyPEM, err := os.ReadFile(a.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt private key: %w", err)
		}
		minter, err := auth.NewRSAMinter(keyPEM, opts)
		if err != nil {
			return nil, err
		}
		return minter, nil
	case a.Secret != "":
		minter, err := auth.NewHMACMinter([]byte(a.Secret), opts)
		if err != nil {
			return nil, err
		}
		return minter, nil
	case a.Token != "":
		return auth.StaticToken(a.Token), nil
	}
	return nil, nil
}

// openSinks connects the optional result stores and the NSQ publisher. The
// returned pinger is the store /healthz checks, nil when no store is used.
func openSinks(ctx context.Context, cfg config.Config, runID string, logger *logging.Logger) (report.Multi, health.Pinger, func(), error) {
	var (
		sinks   report.Multi
		pinger  health.Pinger
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (report.Multi, health.Pinger, func(), error) {
		closeAll()
		return nil, nil, func() {}, err
	}

	if cfg.Sinks.PostgresDSN != "" {
		pool, err := db.Connect(ctx, cfg.Sinks.PostgresDSN, 0)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, pool.Close)
		pg, err := store.NewPostgres(ctx, pool, runID)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, pg)
		pinger = pg
		logger.Plain().WithRun(runID).Info("storing results in postgres")
	}

	if cfg.Sinks.SQLitePath != "" {
		lite, err := store.OpenSQLite(cfg.Sinks.SQLitePath, runID)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = lite.Close() })
		sinks = append(sinks, lite)
		if pinger == nil {
			pinger = lite
		}
		logger.Plain().WithRun(runID).WithPath(cfg.Sinks.SQLitePath).Info("storing results in sqlite")
	}

	if cfg.Sinks.NsqdTCPAddr != "" {
		prod, err := publish.Dial(cfg.Sinks.NsqdTCPAddr)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, prod.Stop)
		failureTopic := ""
		if cfg.Sinks.PublishFailures {
			failureTopic = cfg.Sinks.FailuresTopic
		}
		pub, err := publish.NewPublisher(prod, publish.Options{
			RunID:        runID,
			Topic:        cfg.Sinks.ResultsTopic,
			FailureTopic: failureTopic,
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, pub)
		logger.Plain().WithRun(runID).WithField("topic", cfg.Sinks.ResultsTopic).Info("publishing results to nsq")
	}

	return sinks, pinger, closeAll, nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, healthz http.Handler, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", healthz)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", addr).Info("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Error("metrics server failed")
		}
	}()
	return srv
}
