package services

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event subjects published by the coordinator.
const (
	SubjectAccountDeployed = "treasury.account.deployed"
	SubjectBridgeFilled    = "treasury.bridge.filled"
)

// AccountDeployedEvent announces a newly registered account.
type AccountDeployedEvent struct {
	WorkspaceID string    `json:"workspace_id"`
	ChainID     uint64    `json:"chain_id"`
	AccountType string    `json:"account_type"`
	Address     string    `json:"address"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// BridgeFilledEvent announces a completed cross-chain transfer.
type BridgeFilledEvent struct {
	WorkspaceID   string    `json:"workspace_id,omitempty"`
	SourceChainID uint64    `json:"source_chain_id"`
	DestChainID   uint64    `json:"dest_chain_id"`
	DepositTxHash string    `json:"deposit_tx_hash"`
	FillTxHash    string    `json:"fill_tx_hash"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventPublisher emits coordinator events over NATS. A nil connection turns
// publishing into a no-op so the server runs without a broker.
type EventPublisher struct {
	conn *nats.Conn
	log  *logrus.Entry
}

// NewEventPublisher wraps a NATS connection. conn may be nil.
func NewEventPublisher(conn *nats.Conn) *EventPublisher {
	return &EventPublisher{
		conn: conn,
		log:  logrus.WithField("component", "event_publisher"),
	}
}

// Publish sends one event. Failures are logged, never propagated; event
// delivery is best effort.
func (p *EventPublisher) Publish(subject string, event interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).WithField("subject", subject).Error("Failed to marshal event")
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.WithError(err).WithField("subject", subject).Warn("Failed to publish event")
	}
}
