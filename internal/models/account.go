package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountType distinguishes the roles an on-chain account plays for a
// workspace.
type AccountType string

const (
	AccountTypePrimary   AccountType = "primary"
	AccountTypeTax       AccountType = "tax"
	AccountTypeLiquidity AccountType = "liquidity"
	AccountTypeYield     AccountType = "yield"
)

// Valid reports whether the value is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypePrimary, AccountTypeTax, AccountTypeLiquidity, AccountTypeYield:
		return true
	}
	return false
}

// Account is one smart-contract account record. At most one account exists
// per workspace, chain and type.
type Account struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID   `gorm:"type:uuid;index;uniqueIndex:idx_workspace_chain_type" json:"workspace_id"`
	UserID      *uuid.UUID  `gorm:"type:uuid;index" json:"user_id,omitempty"` // legacy rows predate workspaces
	ChainID     uint64      `gorm:"uniqueIndex:idx_workspace_chain_type" json:"chain_id"`
	AccountType AccountType `gorm:"type:varchar(32);uniqueIndex:idx_workspace_chain_type" json:"account_type"`
	Address     string      `gorm:"type:varchar(42);index" json:"address"`

	DeploymentTxHash *string    `gorm:"type:varchar(66)" json:"deployment_tx_hash,omitempty"`
	DeployedAt       *time.Time `json:"deployed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
