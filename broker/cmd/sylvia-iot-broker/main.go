// Command sylvia-iot-broker is the broker service binary: it wires
// storage, the MQ connection pool, the routing engine, both control
// channels and the HTTP API together per SPEC_FULL.md §5.
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
	"go.uber.org/zap"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/audit"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/buffer"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/cache"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/control"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/engine"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models/memory"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models/mongodb"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models/sqlite"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/routes"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/mq/pool"
	cfgpkg "github.com/sylvia-iot/sylvia-iot-core/pkg/config"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/metrics"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

// Config is the broker binary's settings tree, read from file/env/flags
// via pkg/config. CLI UX beyond this flag set is out of scope.
type Config struct {
	HTTP struct {
		Port        int `mapstructure:"port"`
		IdleTimeout int `mapstructure:"idle_timeout"`
	} `mapstructure:"http"`
	DB struct {
		// Engine selects the model backend: "memory", "sqlite" or "mongodb".
		Engine     string `mapstructure:"engine"`
		SQLitePath string `mapstructure:"sqlite_path"`
		MongoURI   string `mapstructure:"mongo_uri"`
		MongoDB    string `mapstructure:"mongo_db"`
	} `mapstructure:"db"`
	MQ struct {
		// URI is the broker host backing the control channels and the
		// audit queue. Application/network manager queues instead dial
		// each entity's own host_uri, per spec.md §4.C.
		URI string `mapstructure:"uri"`
	} `mapstructure:"mq"`
	Auth struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"auth"`
	Cache struct {
		DeviceCapacity       int `mapstructure:"device_capacity"`
		DeviceRouteCapacity  int `mapstructure:"device_route_capacity"`
		NetworkRouteCapacity int `mapstructure:"network_route_capacity"`
	} `mapstructure:"cache"`
	Buffer struct {
		TTLSeconds int `mapstructure:"ttl_seconds"`
	} `mapstructure:"buffer"`
	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
}

// setDefaults seeds the lowest-priority layer of vp's settings: a config
// file, environment variable or --flag all take precedence over these.
func setDefaults(vp *cfgpkg.Config) {
	in := vp.Internals()
	in.SetDefault("http.port", 3080)
	in.SetDefault("http.idle_timeout", 60)
	in.SetDefault("db.engine", "memory")
	in.SetDefault("db.sqlite_path", "broker.db")
	in.SetDefault("mq.uri", "amqp://localhost")
	in.SetDefault("auth.url", "http://localhost:1080")
	in.SetDefault("cache.device_capacity", 10000)
	in.SetDefault("cache.device_route_capacity", 10000)
	in.SetDefault("cache.network_route_capacity", 10000)
	in.SetDefault("buffer.ttl_seconds", int(buffer.DefaultTTL.Seconds()))
	in.SetDefault("log.level", "info")
}

func main() {
	vp := cfgpkg.ConfigHandler("sylvia-iot-broker", &cfgpkg.ConfigOptions{})
	setDefaults(vp)

	root := &cobra.Command{
		Use:   "sylvia-iot-broker",
		Short: "sylvia-iot-broker routes uplink/downlink traffic between networks and applications",
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
	flags.Int("http-port", 3080, "HTTP listen port")
	flags.String("db-engine", "memory", "model backend: memory, sqlite or mongodb")
	flags.String("db-sqlite-path", "broker.db", "sqlite database file path")
	flags.String("db-mongo-uri", "", "mongodb connection URI")
	flags.String("db-mongo-db", "", "mongodb database name")
	flags.String("mq-uri", "amqp://localhost", "control/audit broker URI")
	flags.String("auth-url", "http://localhost:1080", "authorization service base URL")
	flags.String("log-level", "info", "log level: debug, info, warning, error")

	err := cfgpkg.BindFlags(root, []cfgpkg.Param{
		{Name: "http-port", FlagKey: "http.port"},
		{Name: "db-engine", FlagKey: "db.engine"},
		{Name: "db-sqlite-path", FlagKey: "db.sqlite_path"},
		{Name: "db-mongo-uri", FlagKey: "db.mongo_uri"},
		{Name: "db-mongo-db", FlagKey: "db.mongo_db"},
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

func buildRepo(ctx context.Context, cfg Config) (models.Repo, error) {
	switch cfg.DB.Engine {
	case "sqlite":
		return sqlite.New(sqlite.Options{Path: cfg.DB.SQLitePath})
	case "mongodb":
		return mongodb.New(ctx, mongodb.Options{URI: cfg.DB.MongoURI, DB: cfg.DB.MongoDB})
	default:
		return memory.New(), nil
	}
}

// openQueue opens one mq.Queue against conn, registers handler (nil for a
// Send queue) and connects it, mirroring broker/internal/mgr's own
// conn.NewQueue/SetHandler/Connect sequence.
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

type noopHandler struct{}

func (noopHandler) OnStatus(mq.Queue, mq.Status) {}
func (noopHandler) OnError(mq.Queue, error)      {}
func (noopHandler) OnMessage(mq.Queue, mq.Message) {}

func run(cfg Config) error {
	ll := buildLogger(cfg)
	ctx := context.Background()

	repo, err := buildRepo(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open model backend")
	}
	if err := models.Init(ctx, repo); err != nil {
		return errors.Wrap(err, "init model backend")
	}

	reg := lib.NewRegistry()
	operator, err := metrics.NewOperator(reg)
	if err != nil {
		return errors.Wrap(err, "init metrics")
	}
	droppedCounter, err := audit.NewCounter(operator.Registry(), "broker.data")
	if err != nil {
		return errors.Wrap(err, "init audit counter")
	}

	caches, err := cache.New(cache.Options{
		DeviceCapacity:       cfg.Cache.DeviceCapacity,
		DeviceRouteCapacity:  cfg.Cache.DeviceRouteCapacity,
		NetworkRouteCapacity: cfg.Cache.NetworkRouteCapacity,
	})
	if err != nil {
		return errors.Wrap(err, "init caches")
	}

	buf := buffer.New(repo.DlDataBuffer(), buffer.Options{TTL: time.Duration(cfg.Buffer.TTLSeconds) * time.Second})

	pl := pool.New(ll)
	conn, err := pl.Get(cfg.MQ.URI, nil)
	if err != nil {
		return errors.Wrap(err, "dial control/audit broker")
	}
	defer pl.Put(cfg.MQ.URI)

	auditQueue, err := openQueue(conn, mq.Options{Name: "broker.data", Direction: mq.Send, Reliable: true}, nil)
	if err != nil {
		return errors.Wrap(err, "open audit queue")
	}
	defer auditQueue.Close()
	dataAudit := audit.New(auditQueue, droppedCounter, ll)

	eng := engine.New(engine.Options{Pool: pl, Repo: repo, Caches: caches, Buffer: buf, Audit: dataAudit, Log: ll})
	if err := eng.Scan(ctx); err != nil {
		return errors.Wrap(err, "initial manager scan")
	}

	appCtrlRecv, err := openQueue(conn, mq.Options{Name: "broker.ctrl.application", Direction: mq.Recv, Reliable: true, Broadcast: true}, noopHandler{})
	if err != nil {
		return errors.Wrap(err, "open broker.ctrl.application recv")
	}
	defer appCtrlRecv.Close()
	control.New(appCtrlRecv, eng.ApplicationHandlers(), ll)

	netCtrlRecv, err := openQueue(conn, mq.Options{Name: "broker.ctrl.network", Direction: mq.Recv, Reliable: true, Broadcast: true}, noopHandler{})
	if err != nil {
		return errors.Wrap(err, "open broker.ctrl.network recv")
	}
	defer netCtrlRecv.Close()
	control.New(netCtrlRecv, eng.NetworkHandlers(), ll)

	appCtrlSend, err := openQueue(conn, mq.Options{Name: "broker.ctrl.application", Direction: mq.Send, Reliable: true, Broadcast: true}, nil)
	if err != nil {
		return errors.Wrap(err, "open broker.ctrl.application send")
	}
	defer appCtrlSend.Close()

	netCtrlSend, err := openQueue(conn, mq.Options{Name: "broker.ctrl.network", Direction: mq.Send, Reliable: true, Broadcast: true}, nil)
	if err != nil {
		return errors.Wrap(err, "open broker.ctrl.network send")
	}
	defer netCtrlSend.Close()

	hc, err := httpx.NewClient(httpx.WithTimeout(30 * time.Second))
	if err != nil {
		return errors.Wrap(err, "build tokeninfo http client")
	}
	tiClient := tokeninfo.NewClient(hc, cfg.Auth.URL)

	router := routes.NewRouter(routes.Config{
		Repo: repo, Tokeninfo: tiClient, AppCtrl: appCtrlSend, NetCtrl: netCtrlSend, Log: ll,
	})
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
		ll.WithField("port", cfg.HTTP.Port).Info("broker listening")
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
	for _, shutdownErr := range eng.Registry().Shutdown() {
		ll.WithField("error", shutdownErr.Error()).Warning("manager shutdown failed")
	}
	if err := repo.Close(ctx); err != nil {
		ll.WithField("error", err.Error()).Warning("model backend close failed")
	}
	return nil
}
