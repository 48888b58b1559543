package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"treasury-backend/internal/models"
)

// AccountRepository persists smart-contract account records.
type AccountRepository interface {
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Account, error)
	Find(ctx context.Context, workspaceID uuid.UUID, chainID uint64, accountType models.AccountType) (*models.Account, error)
	FindByAddress(ctx context.Context, address string) ([]models.Account, error)
	Insert(ctx context.Context, account *models.Account) error
	AdoptOrphans(ctx context.Context, userID, workspaceID uuid.UUID) (int64, error)
	Delete(ctx context.Context, workspaceID, id uuid.UUID) (int64, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a GORM-backed account repository.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("chain_id asc, account_type asc").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// Find returns the account for a workspace, chain and type, or nil when no
// record exists.
func (r *accountRepository) Find(ctx context.Context, workspaceID uuid.UUID, chainID uint64, accountType models.AccountType) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND chain_id = ? AND account_type = ?", workspaceID, chainID, accountType).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) FindByAddress(ctx context.Context, address string) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).
		Where("lower(address) = lower(?)", address).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find accounts by address: %w", err)
	}
	return accounts, nil
}

// Insert records an account. Re-inserting the same workspace/chain/type with
// the same address is a no-op, so deployment registration is idempotent.
func (r *accountRepository) Insert(ctx context.Context, account *models.Account) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "chain_id"}, {Name: "account_type"}},
			DoNothing: true,
		}).
		Create(account).Error
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// AdoptOrphans attaches pre-workspace account rows, keyed by user, to a
// workspace. Returns the number of rows claimed.
func (r *accountRepository) AdoptOrphans(ctx context.Context, userID, workspaceID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ? AND workspace_id = ?", userID, uuid.Nil).
		Update("workspace_id", workspaceID)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to adopt orphan accounts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *accountRepository) Delete(ctx context.Context, workspaceID, id uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Delete(&models.Account{}, "id = ? AND workspace_id = ?", id, workspaceID)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete account: %w", result.Error)
	}
	return result.RowsAffected, nil
}
