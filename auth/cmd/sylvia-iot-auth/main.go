// Command sylvia-iot-auth is the authorization service binary: it wires
// the token store and the tokeninfo/login HTTP edges together, per
// SPEC_FULL.md's "contracts only" scoping for everything past /tokeninfo.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sylvia-iot/sylvia-iot-core/auth/internal/models/memory"
	"github.com/sylvia-iot/sylvia-iot-core/auth/internal/routes"
	cfgpkg "github.com/sylvia-iot/sylvia-iot-core/pkg/config"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// Config is the auth binary's settings tree. CLI UX beyond this flag set
// is out of scope.
type Config struct {
	HTTP struct {
		Port        int `mapstructure:"port"`
		IdleTimeout int `mapstructure:"idle_timeout"`
	} `mapstructure:"http"`
	Bootstrap struct {
		Account  string `mapstructure:"account"`
		Password string `mapstructure:"password"`
	} `mapstructure:"bootstrap"`
	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
}

func setDefaults(vp *cfgpkg.Config) {
	in := vp.Internals()
	in.SetDefault("http.port", 1080)
	in.SetDefault("http.idle_timeout", 60)
	in.SetDefault("bootstrap.account", "admin")
	in.SetDefault("bootstrap.password", "admin")
	in.SetDefault("log.level", "info")
}

func main() {
	vp := cfgpkg.ConfigHandler("sylvia-iot-auth", &cfgpkg.ConfigOptions{})
	setDefaults(vp)

	root := &cobra.Command{
		Use:   "sylvia-iot-auth",
		Short: "sylvia-iot-auth issues and introspects bearer tokens for the platform's services",
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
	flags.Int("http-port", 1080, "HTTP listen port")
	flags.String("bootstrap-account", "admin", "bootstrap admin account name")
	flags.String("bootstrap-password", "admin", "bootstrap admin account password")
	flags.String("log-level", "info", "log level: debug, info, warning, error")

	err := cfgpkg.BindFlags(root, []cfgpkg.Param{
		{Name: "http-port", FlagKey: "http.port"},
		{Name: "bootstrap-account", FlagKey: "bootstrap.account"},
		{Name: "bootstrap-password", FlagKey: "bootstrap.password"},
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

	repo := memory.New()
	if err := repo.AddUser(cfg.Bootstrap.Account, cfg.Bootstrap.Password, "u-admin", "Administrator",
		map[string]bool{"admin": true}, []string{"admin"}); err != nil {
		return errors.Wrap(err, "bootstrap admin account")
	}

	router := routes.NewRouter(routes.Config{Repo: repo, Log: ll})

	srv, err := httpx.NewServer(
		httpx.WithPort(cfg.HTTP.Port),
		httpx.WithIdleTimeout(time.Duration(cfg.HTTP.IdleTimeout)*time.Second),
		httpx.WithHandler(router),
	)
	if err != nil {
		return errors.Wrap(err, "build http server")
	}

	serveErr := make(chan error, 1)
	go func() {
		ll.WithField("port", cfg.HTTP.Port).Info("auth listening")
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
	return repo.Close(context.Background())
}
