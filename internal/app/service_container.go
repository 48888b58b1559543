package app

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"treasury-backend/internal/chains"
	"treasury-backend/internal/clients"
	"treasury-backend/internal/config"
	"treasury-backend/internal/db"
	"treasury-backend/internal/handlers"
	"treasury-backend/internal/repository"
	"treasury-backend/internal/router"
	"treasury-backend/internal/services"
)

// Container wires every service of the coordinator. Constructed once per
// process; everything is passed by reference from here.
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	NATS   *nats.Conn

	Registry *chains.Registry
	RPC      *chains.RPCManager

	Accounts  repository.AccountRepository
	Transfers repository.TransferRepository

	Deployment *services.DeploymentService
	Bridge     *services.BridgeService
	Tracker    *services.FillTracker
	Events     *services.EventPublisher

	Handlers router.Handlers
}

// NewContainer builds the full dependency graph from config.
func NewContainer(cfg *config.Config) (*Container, error) {
	database, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logrus.WithError(err).Warn("NATS unavailable, events disabled")
			natsConn = nil
		}
	}

	registry, err := chains.NewRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build chain registry: %w", err)
	}
	rpc := chains.NewRPCManager(registry,
		chains.WithCacheTTL(time.Duration(cfg.RPC.CacheTTLSeconds)*time.Second),
		chains.WithCallTimeout(time.Duration(cfg.RPC.CallTimeoutSeconds)*time.Second),
	)

	accounts := repository.NewAccountRepository(database)
	transfers := repository.NewTransferRepository(database)

	events := services.NewEventPublisher(natsConn)
	acrossClient := clients.NewAcrossClient(cfg.Bridge.AcrossBaseURL)
	lifiClient := clients.NewLiFiClient(cfg.Bridge.LiFiBaseURL)

	deployment := services.NewDeploymentService(accounts, rpc, registry, events)
	bridge := services.NewBridgeService(registry, acrossClient, lifiClient, transfers,
		cfg.Bridge.SlippageBps,
		time.Duration(cfg.Bridge.QuoteTTLSeconds)*time.Second,
	)
	tracker := services.NewFillTracker(acrossClient, lifiClient, transfers, events)

	return &Container{
		Config:     cfg,
		DB:         database,
		NATS:       natsConn,
		Registry:   registry,
		RPC:        rpc,
		Accounts:   accounts,
		Transfers:  transfers,
		Deployment: deployment,
		Bridge:     bridge,
		Tracker:    tracker,
		Events:     events,
		Handlers: router.Handlers{
			Health:  handlers.NewHealthHandler(database),
			Chain:   handlers.NewChainHandler(rpc),
			Account: handlers.NewAccountHandler(accounts, deployment),
			Bridge:  handlers.NewBridgeHandler(bridge, transfers),
			Tracker: handlers.NewTrackerHandler(tracker),
		},
	}, nil
}

// Close releases the container's external connections.
func (c *Container) Close() {
	if c.NATS != nil {
		c.NATS.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
