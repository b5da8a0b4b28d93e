// Command sylvia-iot-coremgr is the core manager binary: a thin service
// fronting external brokers, per SPEC_FULL.md's "contracts only" scoping
// for coremgr/.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lib "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sylvia-iot/sylvia-iot-core/coremgr/internal/audit"
	"github.com/sylvia-iot/sylvia-iot-core/coremgr/internal/routes"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/mq/pool"
	cfgpkg "github.com/sylvia-iot/sylvia-iot-core/pkg/config"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/metrics"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

// Config is the coremgr binary's settings tree.
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
	in.SetDefault("http.port", 3280)
	in.SetDefault("http.idle_timeout", 60)
	in.SetDefault("mq.uri", "amqp://localhost")
	in.SetDefault("auth.url", "http://localhost:1080")
	in.SetDefault("log.level", "info")
}

func main() {
	vp := cfgpkg.ConfigHandler("sylvia-iot-coremgr", &cfgpkg.ConfigOptions{})
	setDefaults(vp)

	root := &cobra.Command{
		Use:   "sylvia-iot-coremgr",
		Short: "sylvia-iot-coremgr fronts external brokers for the platform",
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
	flags.Int("http-port", 3280, "HTTP listen port")
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

func buildLogger(cfg Config) xlog.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Pretty {
		zcfg = zap.NewDevelopmentConfig()
	}
	lvl := zap.NewAtomicLevel()
	_ = lvl.UnmarshalText([]byte(cfg.Log.Level))
	zcfg.Level = lvl
	zl, err := zcfg.Build()
	if err != nil {
		return xlog.Discard()
	}
	return xlog.WithZap(zl)
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

	reg := lib.NewRegistry()
	operator, err := metrics.NewOperator(reg)
	if err != nil {
		return errors.Wrap(err, "init metrics")
	}
	droppedCounter, err := audit.NewCounter(operator.Registry())
	if err != nil {
		return errors.Wrap(err, "init audit counter")
	}

	pl := pool.New(ll)
	conn, err := pl.Get(cfg.MQ.URI, nil)
	if err != nil {
		return errors.Wrap(err, "dial audit broker")
	}
	defer pl.Put(cfg.MQ.URI)

	auditQueue, err := openQueue(conn, mq.Options{Name: "coremgr.data", Direction: mq.Send, Reliable: true}, nil)
	if err != nil {
		return errors.Wrap(err, "open coremgr.data send")
	}
	defer auditQueue.Close()
	emitter := audit.New(auditQueue, droppedCounter, ll)

	hc, err := httpx.NewClient(httpx.WithTimeout(30 * time.Second))
	if err != nil {
		return errors.Wrap(err, "build tokeninfo http client")
	}
	tiClient := tokeninfo.NewClient(hc, cfg.Auth.URL)

	router := routes.NewRouter(routes.Config{Tokeninfo: tiClient, Audit: emitter, Log: ll})
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
		ll.WithField("port", cfg.HTTP.Port).Info("coremgr listening")
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
