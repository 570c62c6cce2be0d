package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/collect/cmd/collectctl/cli"
	"github.com/odyssey-erp/collect/internal/app"
	"github.com/odyssey-erp/collect/internal/collection"
	"github.com/odyssey-erp/collect/internal/platform/cache"
	"github.com/odyssey-erp/collect/internal/platform/db"
	"github.com/odyssey-erp/collect/internal/receipts"
	"github.com/odyssey-erp/collect/jobs"
)

type queueAPI struct {
	*asynq.Inspector
	*jobs.Client
}

func (q queueAPI) Close() error {
	ierr := q.Inspector.Close()
	cerr := q.Client.Close()
	if ierr != nil {
		return ierr
	}
	return cerr
}

type database struct {
	*pgxpool.Pool
	*receipts.Repository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := cli.Env{
		OpenQueue: func() (cli.QueueAPI, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			opt := redisOptions(cfg).AsynqOpt()
			return queueAPI{Inspector: asynq.NewInspector(opt), Client: jobs.NewClient(opt)}, nil
		},
		OpenDB: func(ctx context.Context) (cli.Database, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2, ApplicationName: "collectctl"})
			if err != nil {
				return nil, err
			}
			return database{Pool: pool, Repository: receipts.NewRepository(pool)}, nil
		},
		Money: formatter(),
	}

	if err := cli.NewRootCommand(env).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "collectctl: %v\n", err)
		os.Exit(1)
	}
}

func redisOptions(cfg *app.Config) cache.Options {
	return cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func formatter() *collection.Formatter {
	code := os.Getenv("CURRENCY")
	if code == "" {
		code = "USD"
	}
	f, err := collection.NewFormatter(language.English, code)
	if err != nil {
		return nil
	}
	return f
}
