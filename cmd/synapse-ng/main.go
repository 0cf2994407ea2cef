package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"synapse-ng/api/controllers"
	"synapse-ng/api/routes"
	"synapse-ng/api/services"
	core "synapse-ng/core"
	"synapse-ng/pkg/config"
)

// Exit codes (§6): 0 clean shutdown, 1 config error, 2 snapshot corruption,
// 3 identity load failure.
const (
	exitOK                 = 0
	exitConfigError        = 1
	exitSnapshotCorruption = 2
	exitIdentityFailure    = 3
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Error("failed to load configuration")
		os.Exit(exitConfigError)
	}
	configureLogging(cfg)

	daemonCfg := core.DaemonConfig{
		IdentityPath:     cfg.Node.IDPath,
		StatePath:        cfg.Node.StatePath,
		ListenAddr:       cfg.Node.ListenAddr,
		GossipInterval:   time.Duration(cfg.Gossip.IntervalSeconds) * time.Second,
		ValidatorSetSize: cfg.Governance.ValidatorSetSize,
		ApprovalRatio:    cfg.Governance.ApprovalRatio,
		VotingPeriod:     time.Duration(cfg.Governance.ProposalVotingPeriodSeconds) * time.Second,
		InitialBalanceSP: cfg.Economy.InitialBalanceSP,
		TaxRate:          cfg.Economy.TransactionTaxPercentage,
		DecayInterval:    time.Duration(cfg.Reputation.DecayIntervalSeconds) * time.Second,
		BillingInterval:  time.Duration(cfg.CommonTools.BillingIntervalSeconds) * time.Second,
		BillingPeriod:    time.Duration(cfg.CommonTools.BillingPeriodDays) * 24 * time.Hour,
	}

	identity, err := core.LoadOrCreateIdentity(daemonCfg.IdentityPath)
	if err != nil {
		logrus.WithError(err).Error("failed to load or create node identity")
		os.Exit(exitIdentityFailure)
	}
	store, err := core.OpenStore(daemonCfg.StatePath)
	if err != nil {
		logrus.WithError(err).Error("persisted state snapshot is corrupt")
		os.Exit(exitSnapshotCorruption)
	}
	daemon, err := core.NewDaemonWithDeps(identity, store, daemonCfg)
	if err != nil {
		logrus.WithError(err).Error("failed to start daemon")
		os.Exit(exitConfigError)
	}

	svc := services.NewNodeService(daemon, daemonCfg.VotingPeriod, daemonCfg.ApprovalRatio, daemonCfg.ValidatorSetSize, daemonCfg.InitialBalanceSP, daemonCfg.TaxRate)
	ctrl := controllers.NewNodeController(svc)
	router := mux.NewRouter()
	routes.Register(router, ctrl)

	httpAddr := httpListenAddr()
	server := &http.Server{Addr: httpAddr, Handler: router}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logrus.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		logrus.WithField("addr", httpAddr).Info("api server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("api server stopped unexpectedly")
		}
	}()

	if err := daemon.Start(ctx); err != nil {
		logrus.WithError(err).Error("daemon stopped with error")
		os.Exit(exitConfigError)
	}
	os.Exit(exitOK)
}

func httpListenAddr() string {
	if addr := os.Getenv("SYNAPSE_API_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func configureLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			logrus.SetOutput(f)
		} else {
			logrus.WithError(err).Warn("failed to open log file, logging to stderr")
		}
	}
}
