// Command bankdapp runs the bank contract client: an interactive console,
// an HTTP dashboard with a status event stream, or both.
//
// Usage:
//
//	bankdapp --config config.yaml
//	bankdapp -platform simulate -console
//	bankdapp -platform rpc -rpc http://127.0.0.1:8545 -contract 0x... -http :8080
//
// Required environment variables:
//
//	For the keyed platform: BANKDAPP_PRIVATE_KEY
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/config"
	"github.com/vadiminshakov/bankdapp/internal"
	"github.com/vadiminshakov/bankdapp/internal/console"
	"github.com/vadiminshakov/bankdapp/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	conf, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bank, err := internal.NewBank(ctx, conf, logger)
	if err != nil {
		logger.Fatal("failed to create bank client", zap.Error(err))
	}
	defer bank.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(bank.Run(ctx))
	})

	if account, err := bank.Connect(ctx); err != nil {
		logger.Warn("wallet not connected", zap.Error(err))
	} else {
		logger.Info("wallet connected", zap.String("account", account.Hex()))
	}

	if conf.HTTPAddr != "" {
		srv := web.NewServer(conf.HTTPAddr, bank, bank.Status(), bank.Metrics().Handler(), logger)
		g.Go(func() error {
			if len(conf.TLSDomains) > 0 {
				return srv.StartWithAutoTLS(ctx, conf.TLSDomains, conf.TLSCacheDir)
			}
			return srv.Start(ctx)
		})
	}

	if conf.Console {
		g.Go(func() error {
			defer stop()
			return ignoreCanceled(console.Run(ctx, bank))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("stopped with error", zap.Error(err))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
