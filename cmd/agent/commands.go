package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"boxbridge/internal/blockchain/evm"
	"boxbridge/internal/database"
	"boxbridge/internal/exchange"
	"boxbridge/internal/models"
	"boxbridge/internal/worker"
)

func runAgent(c *cli.Context) error {
	a, err := newAgent()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.cfg.ValidateAgent(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger.Info("Starting boxbridge agent")

	db, err := a.connectDB()
	if err != nil {
		return err
	}

	if err := database.RunMigrations(db, a.logger); err != nil {
		a.logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
	}

	exchangeClient, err := exchange.NewClient(c.Context, a.cfg.Exchange, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize exchange client: %w", err)
	}
	a.logger.Info("Exchange profile loaded", zap.String("profile_id", exchangeClient.ProfileID()))

	chains, err := evm.NewGateway(a.cfg.Chains, a.cfg.Agent.PrivateKey, evm.TxConfigFromWorker(a.cfg.Worker), a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to chains: %w", err)
	}

	metrics := worker.NewMetrics()
	logCooldown, submitCooldown := a.cooldowns(c.Context)

	sweeper := worker.NewSweeper(worker.SweeperDeps{
		Ledger:         db,
		Exchange:       exchangeClient,
		Chain:          chains,
		Clock:          worker.SystemClock{},
		LogCooldown:    logCooldown,
		SubmitCooldown: submitCooldown,
		Metrics:        metrics,
	}, a.cfg.Worker, a.logger)

	manager := worker.NewWorkerManager(sweeper, a.logger, chains.Close)
	server := a.httpServer(db, exchangeClient, chains, metrics.Handler())

	manager.Start()
	a.logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", a.cfg.Server.Port))

	return a.serveUntilSignal(c.Context, server, manager)
}

func serveAPI(c *cli.Context) error {
	a, err := newAgent()
	if err != nil {
		return err
	}
	defer a.close()

	db, err := a.connectDB()
	if err != nil {
		return err
	}

	exchangeClient, err := exchange.NewClient(c.Context, a.cfg.Exchange, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize exchange client: %w", err)
	}

	// read-only, no signer
	chains, err := evm.NewGateway(a.cfg.Chains, "", evm.TxConfigFromWorker(a.cfg.Worker), a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to chains: %w", err)
	}
	a.onClose(chains.Close)

	server := a.httpServer(db, exchangeClient, chains, worker.NewMetrics().Handler())
	return a.serveUntilSignal(c.Context, server, nil)
}

func migrateDB(c *cli.Context) error {
	a, err := newAgent()
	if err != nil {
		return err
	}
	defer a.close()

	db, err := a.connectDB()
	if err != nil {
		return err
	}

	if err := database.RunMigrations(db, a.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.logger.Info("Database migrations applied successfully")
	return nil
}

func printBalance(c *cli.Context) error {
	a, err := newAgent()
	if err != nil {
		return err
	}
	defer a.close()

	currency := exchange.Symbol(c.String("currency"))

	exchangeClient, err := exchange.NewClient(c.Context, a.cfg.Exchange, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize exchange client: %w", err)
	}

	balance, err := exchangeClient.GetBalance(c.Context, currency)
	if err != nil {
		return fmt.Errorf("failed to read exchange balance: %w", err)
	}
	fmt.Printf("exchange %s available: %s\n", currency, balance.String())

	chainID := c.Uint64("chain-id")
	if chainID == 0 {
		return nil
	}

	token := c.String("token")
	if token == "" {
		return fmt.Errorf("--token is required with --chain-id")
	}
	holder := c.String("holder")
	if holder == "" {
		if len(a.cfg.Exchange.AllowedWithdrawTo) == 0 {
			return fmt.Errorf("--holder is required when no withdraw address is configured")
		}
		holder = a.cfg.Exchange.AllowedWithdrawTo[0]
	}

	chains, err := evm.NewGateway(a.cfg.Chains, "", evm.TxConfigFromWorker(a.cfg.Worker), a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to chains: %w", err)
	}
	defer chains.Close()

	raw, err := chains.TokenBalance(c.Context, chainID, token, holder)
	if err != nil {
		return fmt.Errorf("failed to read token balance: %w", err)
	}
	fmt.Printf("chain %d token %s holder %s balance (raw): %s\n", chainID, token, holder, raw.String())
	return nil
}

func printEvents(c *cli.Context) error {
	a, err := newAgent()
	if err != nil {
		return err
	}
	defer a.close()

	db, err := a.connectDB()
	if err != nil {
		return err
	}

	key := models.TransferKey{
		ProxyContract: c.String("proxy"),
		OriginChainID: c.Uint64("origin-chain-id"),
		DepositID:     c.String("deposit-id"),
	}

	var events []models.BridgeEvent
	if c.Bool("latest") {
		event, err := db.LatestEvent(c.Context, key)
		if err != nil {
			return fmt.Errorf("failed to read latest event: %w", err)
		}
		if event != nil {
			events = append(events, *event)
		}
	} else {
		events, err = db.ListEvents(c.Context, key)
		if err != nil {
			return fmt.Errorf("failed to read events: %w", err)
		}
	}

	if len(events) == 0 {
		fmt.Printf("no events for %s\n", key)
		return nil
	}
	for _, e := range events {
		note := ""
		if e.Note != nil {
			note = *e.Note
		}
		fmt.Printf("%s  %-14s  %-40s  %s  %s\n",
			e.EventTS.UTC().Format(time.RFC3339), e.Status, e.NextStep, e.EventIdentifier, note)
	}
	return nil
}
