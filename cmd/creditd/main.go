package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"turbocredit/config"
	"turbocredit/ledger"
	"turbocredit/observability/logging"
	telemetry "turbocredit/observability/otel"
	"turbocredit/service"
	"turbocredit/token"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "creditd.yaml", "path to creditd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("creditd: load config: %v", err)
	}

	var fileCfg *logging.FileConfig
	if cfg.LogFile != "" {
		fileCfg = &logging.FileConfig{Path: cfg.LogFile, MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30}
	}
	logger := logging.Setup("creditd", cfg.Environment, fileCfg)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "creditd",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		log.Fatalf("creditd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("creditd: open ledger: %v", err)
	}
	defer store.Close()

	gateways, err := buildGateways(cfg)
	if err != nil {
		log.Fatalf("creditd: configure gateways: %v", err)
	}

	minSettleAge := make(map[string]time.Duration, len(cfg.Pipeline.MinSettleAge))
	for tokenType, age := range cfg.Pipeline.MinSettleAge {
		minSettleAge[strings.ToLower(tokenType)] = age.Duration
	}

	svc, err := service.New(service.Config{
		Store:    store,
		Gateways: gateways,
		Log:      logger,
		Poll: token.PollConfig{
			BaseWait:    cfg.Polling.WaitTime.Duration,
			MaxAttempts: cfg.Polling.MaxAttempts,
		},
		SinkAddresses: cfg.Pipeline.SinkAddress,
		MinSettleAge:  minSettleAge,
		MaxLifetime:   cfg.Pipeline.MaxLifetime.Duration,
	})
	if err != nil {
		log.Fatalf("creditd: build service: %v", err)
	}
	svc.SetArNSDust(service.ArNSDust{
		Lease:    cfg.ARIO.LeaseNameDustAmount,
		PermaBuy: cfg.ARIO.PermaBuyNameDustAmount,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.RunCreditPipeline(ctx, cfg.Pipeline.Interval.Duration, cfg.Pipeline.BatchSize)
	go svc.RunSweeper(ctx, cfg.SweeperInterval.Duration)

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           svc.OpsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops listener started", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops listener failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config) (*ledger.Store, error) {
	if path := strings.TrimSpace(cfg.Database.SQLitePath); path != "" {
		return ledger.OpenSQLite(path)
	}
	return ledger.Open(ledger.Config{
		WriterDSN: cfg.WriterDSN(),
		ReaderDSN: cfg.ReaderDSN(),
	})
}

func buildGateways(cfg *config.Config) (token.Map, error) {
	gateways := make(token.Map, len(cfg.Gateways))
	for name, gw := range cfg.Gateways {
		var adapter token.Gateway
		switch strings.ToLower(name) {
		case token.TypeArweave:
			adapter = token.NewArweaveGateway(gw.Endpoint, gw.MinConfirmations, nil)
		case token.TypeEthereum, token.TypeBaseEth:
			dialed, err := token.DialEthereumGateway(gw.Endpoint, gw.ChainID, gw.MinConfirmations)
			if err != nil {
				return nil, err
			}
			adapter = dialed
		case token.TypeSolana:
			adapter = token.NewSolanaGateway(gw.Endpoint, nil)
		case token.TypeKyve:
			adapter = token.NewKyveGateway(gw.Endpoint, nil)
		case token.TypeARIO:
			adapter = token.NewARIOGateway(cfg.ARIO.CUURL, cfg.ARIO.ProcessID, nil)
		default:
			continue
		}
		gateways[strings.ToLower(name)] = token.NewCachedGateway(adapter, 10_000, 5*time.Minute)
	}
	return gateways, nil
}
