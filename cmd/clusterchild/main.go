package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/clusterclient/child"
	"github.com/guseggert/clusterclient/identity"
	"github.com/guseggert/clusterclient/internal/config"
	"github.com/guseggert/clusterclient/status"
	"github.com/guseggert/clusterclient/transport"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "clusterchild",
		Usage: "a cluster child that answers its parent over stdio or a WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a TOML or YAML config file. By default clusterchild.toml is looked for upward from the working directory.",
				EnvVars: []string{"CLUSTER_CHILD_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level. One of [debug,info,warn,error].",
				EnvVars: []string{"CLUSTER_LOG_LEVEL"},
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Usage:   "How long a request to the parent waits for its reply. 0 waits forever.",
				EnvVars: []string{"CLUSTER_REQUEST_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "eval-timeout",
				Usage:   "Bound on evaluations requested by the parent. 0 means no bound.",
				EnvVars: []string{"CLUSTER_EVAL_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "status-addr",
				Usage:   "The address for the status HTTP server to listen on. Disabled when empty.",
				EnvVars: []string{"CLUSTER_STATUS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "parent-url",
				Usage:   "WebSocket URL of the parent. When empty, the parent is reached over stdin and stdout.",
				EnvVars: []string{"CLUSTER_PARENT_URL"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			return run(ctx.Context, cfg, identity.FromEnv(), os.Stdin, os.Stdout, os.Stderr)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the config file, if there is one, and applies the flags that were set on top of it.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	path := ctx.String("config")
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Config{}, fmt.Errorf("getting working directory: %w", err)
		}
		path, err = config.Find(wd)
		if err != nil {
			return config.Config{}, fmt.Errorf("looking for config file: %w", err)
		}
	}
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}

	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("request-timeout") {
		cfg.RequestTimeout = config.Duration(ctx.Duration("request-timeout"))
	}
	if ctx.IsSet("eval-timeout") {
		cfg.EvalTimeout = config.Duration(ctx.Duration("eval-timeout"))
	}
	if ctx.IsSet("status-addr") {
		cfg.StatusAddr = ctx.String("status-addr")
	}
	if ctx.IsSet("parent-url") {
		cfg.ParentURL = ctx.String("parent-url")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// run hosts the sample application until the parent goes away or the process is signaled.
func run(ctx context.Context, cfg config.Config, resolver *identity.Resolver, stdin io.Reader, stdout, stderr io.Writer) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	// stdout may be the parent link, so logs go to stderr
	logger, err := zap.NewDevelopment(zap.IncreaseLevel(level))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Named("clusterchild").Sugar()

	id, err := resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	if id == nil {
		fmt.Fprintf(stderr, "%s is not set; not running under a cluster manager\n", identity.EnvMode)
		return nil
	}
	sugar = sugar.With("Cluster", id.ClusterIndex, "Mode", id.Mode)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var t transport.Transport
	if cfg.ParentURL != "" {
		sugar.Debugf("dialing parent at %s", cfg.ParentURL)
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		ws, err := transport.DialWebSocket(dialCtx, cfg.ParentURL, transport.WithWebSocketLogger(sugar.Named("transport")))
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to parent: %w", err)
		}
		t = ws
	} else {
		t = transport.NewProcess(stdin, stdout,
			transport.WithProcessLogger(sugar.Named("transport")),
			transport.WithParseErrorHandler(func(line []byte, err error) {
				sugar.Warnw("discarding malformed line from parent", "Line", string(line), "Error", err)
			}),
		)
	}
	defer t.Close()

	app := newShardApp(id)
	registry := child.NewRegistry(sugar)
	client, err := registry.GetOrCreate(app, t, id,
		child.WithLogger(logger),
		child.WithRequestTimeout(time.Duration(cfg.RequestTimeout)),
		child.WithEvalTimeout(time.Duration(cfg.EvalTimeout)),
	)
	if err != nil {
		return fmt.Errorf("building cluster client: %w", err)
	}
	defer client.Close()
	client.OnMessage(app.handleMessage)

	if cfg.StatusAddr != "" {
		srv, err := status.NewServer(client, status.WithListenAddr(cfg.StatusAddr), status.WithLogger(logger), status.WithLogLevel(level))
		if err != nil {
			return fmt.Errorf("building status server: %w", err)
		}
		if err := srv.Listen(); err != nil {
			return fmt.Errorf("starting status server: %w", err)
		}
		sugar.Infof("status server listening on %s", srv.Addr())
		go func() {
			if err := srv.Run(); err != nil {
				sugar.Errorw("status server stopped", "Error", err)
			}
		}()
		defer srv.Close()
	}

	app.emit(child.Ready)
	sugar.Infow("cluster child ready", "Shards", id.ShardIDs, "Instance", client.InstanceID())

	select {
	case <-ctx.Done():
		sugar.Info("shutting down")
		notifyCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = client.Notify(notifyCtx, child.Disconnected)
		cancel()
	case <-t.Done():
		sugar.Info("parent went away")
		if p, ok := t.(*transport.Process); ok {
			if err := p.Err(); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading from parent: %w", err)
			}
		}
	}
	return nil
}
