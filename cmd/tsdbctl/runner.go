package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cohesivestack/valgo"
	"github.com/urfave/cli/v2"

	"github.com/tanstack/db-sqlite-persist/bridge"
	"github.com/tanstack/db-sqlite-persist/bridge/wsbridge"
	"github.com/tanstack/db-sqlite-persist/config"
	"github.com/tanstack/db-sqlite-persist/log"
	"github.com/tanstack/db-sqlite-persist/persistadapter"
	"github.com/tanstack/db-sqlite-persist/server"
	"github.com/tanstack/db-sqlite-persist/sqlitedriver"
	"github.com/tanstack/db-sqlite-persist/valgoutil"
)

// Runner drives the tsdbctl CLI.
type Runner struct{}

func NewRunner() *Runner { return &Runner{} }

func (r *Runner) Run(args []string) error {
	app := cli.NewApp()
	app.Name = "tsdbctl"
	app.Usage = "manage a sqlite-persist database file"

	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "optional YAML config file"},
		&cli.StringFlag{Name: "db-dir", Usage: "directory holding the sqlite file", EnvVars: []string{"DB_DIR"}},
		&cli.StringFlag{Name: "db-name", Usage: "sqlite file name, without extension", EnvVars: []string{"DB_NAME"}},
		&cli.BoolFlag{Name: "dev", Usage: "human-readable development logging"},
	}

	app.Commands = []*cli.Command{
		{
			Name:  "serve",
			Usage: "hosts the runtime bridge over a websocket",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:  "collection",
					Usage: "collectionId:schemaVersion:policy, repeatable",
				},
				&cli.IntFlag{Name: "port", Usage: "bridge bind port"},
				&cli.StringFlag{Name: "path", Usage: "bridge websocket path"},
			},
			Action: execCmd(r.serve),
		},
		{
			Name:  "inspect",
			Usage: "dumps collection and index metadata as JSON",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "collection", Usage: "limit to one collection id"},
			},
			Action: execCmd(r.inspect),
		},
		{
			Name:   "migrate",
			Usage:  "bootstraps the internal schema",
			Action: execCmd(r.migrate),
		},
		{
			Name:      "call",
			Usage:     "invokes one bridge method against a running tsdbctl serve, for manual testing",
			ArgsUsage: "<method> [jsonPayload]",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "collection", Usage: "defaults to the bridge channel name"},
				&cli.StringFlag{Name: "address", Usage: "ws(s)://host:port of a running tsdbctl serve", Value: "ws://127.0.0.1:8642"},
			},
			Action: execCmd(r.call),
		},
	}

	return app.Run(args)
}

func (r *Runner) serve(ctx context.Context, cfg config.TsdbConfig, c *cli.Context) error {
	specs, err := parseCollectionSpecs(c.StringSlice("collection"))
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("serve requires at least one --collection")
	}

	logger := loggerFor(cfg)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithDir(cfg.DBDir), sqlitedriver.WithDBName(cfg.DBName))
	if err != nil {
		return err
	}

	innerHost := bridge.NewHost(persistadapter.New(drv, persistadapter.WithLogger(logger)), bridge.WithHostLogger(logger))
	for _, s := range specs {
		innerHost.RegisterCollection(s.collectionID, s.schemaVersion, s.policy)
		logger.Info("registered collection", "collectionId", s.collectionID, "schemaVersion", s.schemaVersion, "policy", s.policy)
	}

	wsHost := wsbridge.NewHost(innerHost, wsbridge.WithPath(cfg.Bridge.Path), wsbridge.WithLogger(logger))

	srv, err := server.NewServer(cfg.Bridge.Port, server.WithLogger(logger))
	if err != nil {
		return err
	}
	srv.Register("", wsHost)

	logger.Info("starting bridge", "address", srv.WebsSocketAddress()+cfg.Bridge.Path)
	go func() {
		if startErr := srv.Start(); startErr != nil {
			logger.Error("bridge server stopped", "err", startErr)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func (r *Runner) inspect(ctx context.Context, cfg config.TsdbConfig, c *cli.Context) error {
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithDir(cfg.DBDir), sqlitedriver.WithDBName(cfg.DBName))
	if err != nil {
		return err
	}
	adapter := persistadapter.New(drv)

	collections, err := adapter.ListCollections(ctx)
	if err != nil {
		return err
	}

	only := c.String("collection")
	type report struct {
		Collection persistadapter.CollectionInfo `json:"collection"`
		Indexes    []persistadapter.IndexInfo    `json:"indexes"`
	}
	var reports []report
	for _, col := range collections {
		if only != "" && col.CollectionID != only {
			continue
		}
		indexes, err := adapter.ListIndexes(ctx, col.CollectionID)
		if err != nil {
			return err
		}
		reports = append(reports, report{Collection: col, Indexes: indexes})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func (r *Runner) migrate(ctx context.Context, cfg config.TsdbConfig, _ *cli.Context) error {
	logger := loggerFor(cfg)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithDir(cfg.DBDir), sqlitedriver.WithDBName(cfg.DBName))
	if err != nil {
		return err
	}
	adapter := persistadapter.New(drv, persistadapter.WithLogger(logger))
	if err = adapter.Bootstrap(ctx); err != nil {
		return err
	}
	logger.Info("schema bootstrapped", "dbDir", cfg.DBDir, "dbName", cfg.DBName)
	return nil
}

func (r *Runner) call(ctx context.Context, cfg config.TsdbConfig, c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("call requires a method name, e.g. loadSubset")
	}
	method := bridge.Method(c.Args().Get(0))

	var payload any
	if raw := c.Args().Get(1); raw != "" {
		payload = json.RawMessage(raw)
	}

	collectionID := c.String("collection")
	if collectionID == "" {
		collectionID = cfg.Bridge.Channel
	}

	client, err := wsbridge.Dial(ctx, c.String("address")+cfg.Bridge.Path, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	inv := bridge.NewInvoker(client, bridge.WithTimeout(time.Duration(cfg.Bridge.TimeoutMillis)*time.Millisecond))

	var result json.RawMessage
	if err = inv.Call(ctx, collectionID, nil, method, payload, &result); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

type collectionSpec struct {
	collectionID  string
	schemaVersion int
	policy        persistadapter.Policy
}

func parseCollectionSpecs(raw []string) ([]collectionSpec, error) {
	specs := make([]collectionSpec, 0, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid --collection %q, want collectionId:schemaVersion:policy", entry)
		}
		version, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid --collection %q: schemaVersion must be an integer", entry)
		}
		policy := persistadapter.Policy(parts[2])
		switch policy {
		case persistadapter.PolicySyncAbsentError, persistadapter.PolicySyncPresentReset, persistadapter.PolicyReset:
		default:
			return nil, fmt.Errorf("invalid --collection %q: unknown policy %q", entry, parts[2])
		}
		specs = append(specs, collectionSpec{collectionID: parts[0], schemaVersion: version, policy: policy})
	}
	return specs, nil
}

func loggerFor(cfg config.TsdbConfig) log.Logger {
	level, ok := log.ParseLevel(cfg.LogLevel)
	if !ok {
		level = 0
	}
	opts := []log.LoggerOption{log.WithLevel(level)}
	if cfg.Development {
		opts = append(opts, log.WithDevelopment())
	}
	return log.NewLogger(opts...)
}

func execCmd(cmd func(ctx context.Context, cfg config.TsdbConfig, c *cli.Context) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfg := loadConfig(c)
		return cmd(ctx, cfg, c)
	}
}

func loadConfig(c *cli.Context) config.TsdbConfig {
	var cfg config.TsdbConfig
	config.Load(c.String("config"), &cfg)

	if v := c.String("db-dir"); v != "" {
		cfg.DBDir = v
	}
	if v := c.String("db-name"); v != "" {
		cfg.DBName = v
	}
	if c.Bool("dev") {
		cfg.Development = true
	}
	if v := c.Int("port"); v != 0 {
		cfg.Bridge.Port = v
	}
	if v := c.String("path"); v != "" {
		cfg.Bridge.Path = v
	}

	if err := cfg.Validation().ToError(); err != nil {
		exitOnInvalidConfig(err)
	}
	return cfg
}

func exitOnInvalidConfig(err error) {
	fmt.Fprintln(os.Stderr, "Config errors:")
	if verr, ok := err.(*valgo.Error); ok {
		for _, detail := range valgoutil.GetDetails(verr) {
			fmt.Fprintf(os.Stderr, "  %s\n", detail)
		}
	} else {
		fmt.Fprintf(os.Stderr, "  %s\n", err.Error())
	}
	os.Exit(1)
}
