package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rl1809/registration/internal/adapter/messaging"
	"github.com/rl1809/registration/internal/adapter/storage"
	"github.com/rl1809/registration/internal/config"
)

var version = "dev"

// app carries what every subcommand needs after configuration is loaded.
type app struct {
	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()
	a := &app{}

	root := &cobra.Command{
		Use:          "registration",
		Short:        "Product registration service",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			slog.SetDefault(a.log)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	root.PersistentFlags().String("driver", "", "database driver: mysql, postgres or sqlite3")
	root.PersistentFlags().String("dsn", "", "database DSN")
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("database.driver", root.PersistentFlags().Lookup("driver"))
	_ = v.BindPFlag("database.dsn", root.PersistentFlags().Lookup("dsn"))

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newRelayCmd(a),
		newTailCmd(a),
		newTokenCmd(a),
	)
	return root
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func (a *app) openStore(ctx context.Context) (*sql.DB, *storage.SQLStore, error) {
	dialect, err := storage.ParseDialect(a.cfg.Database.Driver)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(ctx, dialect, a.cfg.Database.DSN, storage.PoolConfig{
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect %s: %w", dialect, err)
	}
	a.log.Info("connected to database", slog.String("driver", string(dialect)))

	if a.cfg.Database.MigrateOnStart {
		if err := storage.Migrate(ctx, db, dialect); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return db, storage.NewSQLStore(db, dialect), nil
}

// openRedis returns nil when no address is configured.
func (a *app) openRedis(ctx context.Context) (*redis.Client, *storage.RedisAdapter, error) {
	if a.cfg.Redis.Addr == "" {
		return nil, nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	a.log.Info("connected to redis", slog.String("addr", a.cfg.Redis.Addr))
	return rdb, storage.NewRedisAdapter(rdb), nil
}

func (a *app) newPublisher() (*messaging.Publisher, error) {
	return messaging.NewPublisher(messaging.PublisherConfig{
		Connect:        messaging.ConnectURL(a.cfg.NATS.URL, a.cfg.ServiceName),
		Log:            a.log,
		StreamName:     a.cfg.NATS.Stream,
		SubjectPrefix:  a.cfg.NATS.SubjectPrefix,
		Duplicates:     a.cfg.NATS.DuplicatesWindow,
		PublishTimeout: a.cfg.NATS.PublishTimeout,
		CreatedBy:      a.cfg.ServiceName,
	})
}
