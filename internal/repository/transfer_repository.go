package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"treasury-backend/internal/models"
)

// TransferRepository persists the bridge transfer ledger.
type TransferRepository interface {
	Create(ctx context.Context, transfer *models.BridgeTransfer) error
	GetByDepositTx(ctx context.Context, depositTxHash string) (*models.BridgeTransfer, error)
	MarkFilled(ctx context.Context, depositTxHash, fillTxHash string) error
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit int) ([]models.BridgeTransfer, error)
}

type transferRepository struct {
	db *gorm.DB
}

// NewTransferRepository creates a GORM-backed transfer repository.
func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

func (r *transferRepository) Create(ctx context.Context, transfer *models.BridgeTransfer) error {
	if transfer.Status == "" {
		transfer.Status = models.TransferStatusPending
	}
	if err := r.db.WithContext(ctx).Create(transfer).Error; err != nil {
		return fmt.Errorf("failed to create bridge transfer: %w", err)
	}
	return nil
}

func (r *transferRepository) GetByDepositTx(ctx context.Context, depositTxHash string) (*models.BridgeTransfer, error) {
	var transfer models.BridgeTransfer
	err := r.db.WithContext(ctx).
		Where("lower(deposit_tx_hash) = lower(?)", depositTxHash).
		First(&transfer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bridge transfer: %w", err)
	}
	return &transfer, nil
}

func (r *transferRepository) MarkFilled(ctx context.Context, depositTxHash, fillTxHash string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&models.BridgeTransfer{}).
		Where("lower(deposit_tx_hash) = lower(?)", depositTxHash).
		Updates(map[string]interface{}{
			"status":       models.TransferStatusFilled,
			"fill_tx_hash": fillTxHash,
			"filled_at":    now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark transfer filled: %w", err)
	}
	return nil
}

func (r *transferRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit int) ([]models.BridgeTransfer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var transfers []models.BridgeTransfer
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at desc").
		Limit(limit).
		Find(&transfers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bridge transfers: %w", err)
	}
	return transfers, nil
}
