package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"vaultdca/config"
	"vaultdca/native/dca"
	nativecommon "vaultdca/native/common"
	"vaultdca/observability/logging"
	"vaultdca/observability/metrics"
	"vaultdca/rpc"
	"vaultdca/storage"
	"vaultdca/swap"
	"vaultdca/vault"
)

// engineCustody is the address holding escrowed vault shares on behalf of
// the engine in the simulated vault.
var engineCustody = [20]byte{19: 0xEE}

func main() {
	configPath := flag.String("config", "dcad.toml", "path to the daemon configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "dcad: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("dcad", os.Getenv("DCAD_ENV"), logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	state := storage.NewState(db, cfg.Namespace)

	sim := vault.NewSimVault(nil)
	rateWad, ok := new(big.Int).SetString(cfg.SwapRateWad, 10)
	if !ok {
		return fmt.Errorf("invalid SwapRateWad %q", cfg.SwapRateWad)
	}
	converter := swap.NewFixedRateConverter(cfg.AssetToken, cfg.TargetToken, rateWad)

	roles := nativecommon.NewRoleSet()
	var keeper [20]byte
	if cfg.KeeperAddress != "" {
		keeper, err = config.ParseAddress(cfg.KeeperAddress)
		if err != nil {
			return err
		}
		roles.Grant(nativecommon.RoleKeeper, keeper)
	}
	if cfg.AdminAddress != "" {
		admin, err := config.ParseAddress(cfg.AdminAddress)
		if err != nil {
			return err
		}
		roles.Grant(nativecommon.RoleAdmin, admin)
	}

	engine := dca.NewEngine(engineCustody, sim, converter)
	engine.SetState(state)
	engine.SetTokenPair(cfg.AssetToken, cfg.TargetToken)
	if cfg.KeeperAddress != "" || cfg.AdminAddress != "" {
		engine.SetRoles(roles)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.DCA()

	apiServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: rpc.NewServer(engine, logger, rate.NewLimiter(rate.Limit(100), 200)).Router(),
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api listening", "address", cfg.ListenAddress)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("metrics listening", "address", cfg.MetricsAddress)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go keeperLoop(ctx, logger, engine, sim, keeper, cfg, m)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown", "error", err)
	}
	return nil
}

// keeperLoop drives the simulated vault and attempts an epoch execution on
// every tick. Failed preconditions are routine (the interval gate rejects
// early ticks) and are logged at debug level only.
func keeperLoop(ctx context.Context, logger *slog.Logger, engine *dca.Engine, sim *vault.SimVault, keeper [20]byte, cfg *config.Config, m *metrics.DCAMetrics) {
	interval := time.Duration(cfg.EpochIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if cfg.SimGrowthBps != 0 {
			if err := sim.AdjustSharePriceBps(cfg.SimGrowthBps); err != nil {
				logger.Error("share price adjustment failed", "error", err)
				continue
			}
		}

		rec, err := engine.ExecuteDCA(keeper, nil, nil)
		switch {
		case err == nil:
			m.ObserveEpochExecuted(rec.YieldConverted, rec.TokensBought)
			logger.Info("epoch executed",
				"epoch", rec.Epoch,
				"yieldConverted", rec.YieldConverted.String(),
				"tokensBought", rec.TokensBought.String(),
				"sharePriceWad", rec.SharePriceWad.String())
		case errors.Is(err, dca.ErrIntervalNotElapsed),
			errors.Is(err, dca.ErrNoPrincipal),
			errors.Is(err, dca.ErrNoYield):
			m.ObserveExecutionFailure(failureReason(err))
			logger.Debug("epoch skipped", "reason", err.Error())
		default:
			m.ObserveExecutionFailure(failureReason(err))
			logger.Error("epoch execution failed", "error", err)
		}

		if g, err := engine.Global(); err == nil {
			m.SetLedgerGauges(g.TotalPrincipal, g.PendingAllocation, g.TokenBalance)
		}
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, dca.ErrIntervalNotElapsed):
		return "interval_not_elapsed"
	case errors.Is(err, dca.ErrNoPrincipal):
		return "no_principal"
	case errors.Is(err, dca.ErrNoYield):
		return "no_yield"
	case errors.Is(err, dca.ErrAmountTooLow):
		return "amount_too_low"
	case errors.Is(err, nativecommon.ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
