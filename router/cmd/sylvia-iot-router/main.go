// Command sylvia-iot-router is the router service binary. Per spec.md
// §1's explicit non-goal naming "the router's system-metrics endpoints",
// this wires only a health check, an authenticated whoami edge, and the
// shared /metrics surface — not the full metrics-collection pipeline a
// production router would carry.
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

	cfgpkg "github.com/sylvia-iot/sylvia-iot-core/pkg/config"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/metrics"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/router/internal/routes"
)

// Config is the router binary's settings tree.
type Config struct {
	HTTP struct {
		Port        int `mapstructure:"port"`
		IdleTimeout int `mapstructure:"idle_timeout"`
	} `mapstructure:"http"`
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
	in.SetDefault("http.port", 3380)
	in.SetDefault("http.idle_timeout", 60)
	in.SetDefault("auth.url", "http://localhost:1080")
	in.SetDefault("log.level", "info")
}

func main() {
	vp := cfgpkg.ConfigHandler("sylvia-iot-router", &cfgpkg.ConfigOptions{})
	setDefaults(vp)

	root := &cobra.Command{
		Use:   "sylvia-iot-router",
		Short: "sylvia-iot-router exposes the platform's routing health and identity edges",
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
	flags.Int("http-port", 3380, "HTTP listen port")
	flags.String("auth-url", "http://localhost:1080", "authorization service base URL")
	flags.String("log-level", "info", "log level: debug, info, warning, error")

	err := cfgpkg.BindFlags(root, []cfgpkg.Param{
		{Name: "http-port", FlagKey: "http.port"},
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

func run(cfg Config) error {
	ll := buildLogger(cfg)

	reg := lib.NewRegistry()
	operator, err := metrics.NewOperator(reg)
	if err != nil {
		return errors.Wrap(err, "init metrics")
	}

	hc, err := httpx.NewClient(httpx.WithTimeout(30 * time.Second))
	if err != nil {
		return errors.Wrap(err, "build tokeninfo http client")
	}
	tiClient := tokeninfo.NewClient(hc, cfg.Auth.URL)

	router := routes.NewRouter(routes.Config{Tokeninfo: tiClient, Log: ll})
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
		ll.WithField("port", cfg.HTTP.Port).Info("router listening")
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
