package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransferStatus is the lifecycle state of a bridge transfer record.
type TransferStatus string

const (
	TransferStatusPending TransferStatus = "pending"
	TransferStatusFilled  TransferStatus = "filled"
	TransferStatusFailed  TransferStatus = "failed"
)

// BridgeTransfer is the ledger record of one cross-chain transfer initiated
// through the coordinator.
type BridgeTransfer struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index" json:"workspace_id"`

	SourceChainID uint64 `json:"source_chain_id"`
	DestChainID   uint64 `json:"dest_chain_id"`
	Provider      string `gorm:"type:varchar(32)" json:"provider"`
	Tool          string `gorm:"type:varchar(64)" json:"tool,omitempty"`

	InputToken   string `gorm:"type:varchar(42)" json:"input_token"`
	OutputToken  string `gorm:"type:varchar(42)" json:"output_token"`
	InputAmount  string `gorm:"type:varchar(78)" json:"input_amount"` // raw integer string
	OutputAmount string `gorm:"type:varchar(78)" json:"output_amount"`

	DepositTxHash string  `gorm:"type:varchar(66);uniqueIndex" json:"deposit_tx_hash"`
	FillTxHash    *string `gorm:"type:varchar(66)" json:"fill_tx_hash,omitempty"`

	Status    TransferStatus `gorm:"type:varchar(16);index" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	FilledAt  *time.Time     `json:"filled_at,omitempty"`
}

func (t *BridgeTransfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
