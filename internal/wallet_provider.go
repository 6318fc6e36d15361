package internal

import (
	"context"
	"fmt"

	"github.com/vadiminshakov/bankdapp/config"
	"github.com/vadiminshakov/bankdapp/internal/clients"
	"github.com/vadiminshakov/bankdapp/pkg/units"
	"go.uber.org/zap"
)

// newWallet creates the wallet provider for the configured platform.
// This is the single point of truth for dispatching to platform-specific implementations.
func newWallet(ctx context.Context, conf config.Config, logger *zap.Logger) (clients.Wallet, error) {
	switch conf.Platform {
	case config.PlatformRPC:
		return clients.NewRPCWallet(ctx, conf.RPCURL, conf.AccountPollInterval, logger)
	case config.PlatformKeyed:
		return clients.NewKeyedWallet(ctx, conf.RPCURL, conf.PrivateKey, conf.ChainID, logger)
	case config.PlatformSimulate:
		balance, err := units.ToBaseUnit(conf.SimulateBalance.String())
		if err != nil {
			return nil, fmt.Errorf("simulate balance: %w", err)
		}
		return clients.NewSimulatedWallet(logger, conf.ContractAddress, balance, conf.SimulateAccounts...)
	default:
		return nil, fmt.Errorf("unsupported platform: %s", conf.Platform)
	}
}
