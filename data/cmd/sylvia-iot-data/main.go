// Command sylvia-iot-data is the archive service binary: it consumes the
// broker's (and coremgr's) audit stream and serves a read-only listing
// over what it has persisted, per SPEC_FULL.md's "audit consumer
// implemented" scoping for data/.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lib "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sylvia-iot/sylvia-iot-core/data/internal/consumer"
	"github.com/sylvia-iot/sylvia-iot-core/data/internal/models/memory"
	"github.com/sylvia-iot/sylvia-iot-core/data/internal/routes"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/mq/pool"
	cfgpkg "github.com/sylvia-iot/sylvia-iot-core/pkg/config"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/metrics"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

// Config is the archive binary's settings tree. CLI UX beyond this flag
// set is out of scope.
type Config struct {
	HTTP struct {
		Port        int `mapstructure:"port"`
		IdleTimeout int `mapstructure:"idle_timeout"`
	} `mapstructure:"http"`
	MQ struct {
		URI string `mapstructure:"uri"`
	} `mapstructure:"mq"`
	Auth struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"auth"`
	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
}

func setDefaults(vp *cfgpkg.Config) {
	in := vp.Internals()
	in.SetDefault("http.port", 3180)
	in.SetDefault("http.idle_timeout", 60)
	in.SetDefault("mq.uri", "amqp://localhost")
	in.SetDefault("auth.url", "http://localhost:1080")
	in.SetDefault("log.level", "info")
}

func main() {
	vp := cfgpkg.ConfigHandler("sylvia-iot-data", &cfgpkg.ConfigOptions{})
	setDefaults(vp)

	root := &cobra.Command{
		Use:   "sylvia-iot-data",
		Short: "sylvia-iot-data archives the platform's audit stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := vp.ReadFile(true); err != nil {
				return errors.Wrap(err, "read config file")
			}
			var cfg Config
			if err := vp.Unmarshal(&cfg, ""); err != nil {
				return errors.Wrap(err, "unmarshal config")
			}
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.Int("http-port", 3180, "HTTP listen port")
	flags.String("mq-uri", "amqp://localhost", "audit broker URI")
	flags.String("auth-url", "http://localhost:1080", "authorization service base URL")
	flags.String("log-level", "info", "log level: debug, info, warning, error")

	err := cfgpkg.BindFlags(root, []cfgpkg.Param{
		{Name: "http-port", FlagKey: "http.port"},
		{Name: "mq-uri", FlagKey: "mq.uri"},
		{Name: "auth-url", FlagKey: "auth.url"},
		{Name: "log-level", FlagKey: "log.level"},
	}, vp.Internals())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildLogger backs the archive service with zerolog rather than zap,
// per SPEC_FULL.md §6.1 wiring zerolog in as the ambient stack's second
// structured-logging backend.
func buildLogger(cfg Config) xlog.Logger {
	var lvl xlog.Level
	switch cfg.Log.Level {
	case "debug":
		lvl = xlog.Debug
	case "warning":
		lvl = xlog.Warning
	case "error":
		lvl = xlog.Error
	default:
		lvl = xlog.Info
	}
	ll := xlog.WithZero(xlog.ZeroOptions{PrettyPrint: cfg.Log.Pretty})
	ll.SetLevel(lvl)
	return ll
}

func openQueue(conn pool.Conn, opts mq.Options, handler mq.Handler) (mq.Queue, error) {
	q, err := conn.NewQueue(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open queue %q", opts.Name)
	}
	q.SetHandler(handler)
	if err := q.Connect(); err != nil {
		return nil, errors.Wrapf(err, "connect queue %q", opts.Name)
	}
	return q, nil
}

func run(cfg Config) error {
	ll := buildLogger(cfg)
	ctx := context.Background()

	repo := memory.New()
	defer repo.Close(ctx)

	reg := lib.NewRegistry()
	operator, err := metrics.NewOperator(reg)
	if err != nil {
		return errors.Wrap(err, "init metrics")
	}

	pl := pool.New(ll)
	conn, err := pl.Get(cfg.MQ.URI, nil)
	if err != nil {
		return errors.Wrap(err, "dial audit broker")
	}
	defer pl.Put(cfg.MQ.URI)

	brokerConsumer := consumer.New(repo.Record(), "broker.data", ll)
	brokerQueue, err := openQueue(conn, mq.Options{Name: "broker.data", Direction: mq.Recv, Reliable: true}, brokerConsumer)
	if err != nil {
		return errors.Wrap(err, "open broker.data recv")
	}
	defer brokerQueue.Close()

	coremgrConsumer := consumer.New(repo.Record(), "coremgr.data", ll)
	coremgrQueue, err := openQueue(conn, mq.Options{Name: "coremgr.data", Direction: mq.Recv, Reliable: true}, coremgrConsumer)
	if err != nil {
		return errors.Wrap(err, "open coremgr.data recv")
	}
	defer coremgrQueue.Close()

	hc, err := httpx.NewClient(httpx.WithTimeout(30 * time.Second))
	if err != nil {
		return errors.Wrap(err, "build tokeninfo http client")
	}
	tiClient := tokeninfo.NewClient(hc, cfg.Auth.URL)

	router := routes.NewRouter(routes.Config{Repo: repo, Tokeninfo: tiClient, Log: ll})
	topMux := http.NewServeMux()
	topMux.Handle("/", router)
	topMux.Handle("/metrics", operator.MetricsHandler())

	srv, err := httpx.NewServer(
		httpx.WithPort(cfg.HTTP.Port),
		httpx.WithIdleTimeout(time.Duration(cfg.HTTP.IdleTimeout)*time.Second),
		httpx.WithHandler(topMux),
	)
	if err != nil {
		return errors.Wrap(err, "build http server")
	}

	serveErr := make(chan error, 1)
	go func() {
		ll.WithField("port", cfg.HTTP.Port).Info("archive service listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	case <-sigCh:
		ll.Info("shutting down")
	}

	if err := srv.Stop(true); err != nil {
		ll.WithField("error", err.Error()).Warning("graceful http shutdown failed")
	}
	return nil
}
