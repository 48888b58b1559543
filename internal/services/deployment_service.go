package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"treasury-backend/internal/chains"
	"treasury-backend/internal/models"
	"treasury-backend/internal/repository"
	"treasury-backend/internal/safe"
	"treasury-backend/internal/treasury"
)

// ChainReader is the slice of the RPC manager the deployment service needs.
type ChainReader interface {
	GetBytecode(ctx context.Context, chainID uint64, address common.Address) ([]byte, error)
	SafeOwners(ctx context.Context, chainID uint64, account common.Address) ([]common.Address, error)
	SafeThreshold(ctx context.Context, chainID uint64, account common.Address) (uint64, error)
	ProxyCreationCode(ctx context.Context, chainID uint64, factory common.Address) ([]byte, error)
	InvalidateChain(chainID uint64)
}

// DeploymentPlan is what prepareDeployment hands back: the unsigned factory
// transaction and the address it will deploy to.
type DeploymentPlan struct {
	Transaction       treasury.Transaction `json:"transaction"`
	PredictedAddress  common.Address       `json:"predictedAddress"`
	Owners            []common.Address     `json:"owners"`
	Threshold         uint64               `json:"threshold"`
	AlreadyRegistered bool                 `json:"alreadyRegistered"`
	AlreadyDeployed   bool                 `json:"alreadyDeployed"`
}

// ChainAccountStatus is one chain's entry in a multi-chain account overview.
type ChainAccountStatus struct {
	ChainID   uint64  `json:"chainId"`
	ChainName string  `json:"chainName"`
	Address   *string `json:"address,omitempty"`
	Deployed  bool    `json:"deployed"`
}

// DeploymentService predicts, prepares and registers deterministic account
// deployments across chains.
type DeploymentService struct {
	accounts repository.AccountRepository
	reader   ChainReader
	registry *chains.Registry
	events   *EventPublisher
	log      *logrus.Entry
}

// NewDeploymentService wires the orchestrator.
func NewDeploymentService(accounts repository.AccountRepository, reader ChainReader, registry *chains.Registry, events *EventPublisher) *DeploymentService {
	return &DeploymentService{
		accounts: accounts,
		reader:   reader,
		registry: registry,
		events:   events,
		log:      logrus.WithField("component", "deployment_service"),
	}
}

// factoryFor returns the factory address for a chain, falling back to the
// canonical deployment when the descriptor does not override it.
func (s *DeploymentService) factoryFor(desc *chains.Descriptor) common.Address {
	if desc.AccountFactory != (common.Address{}) {
		return desc.AccountFactory
	}
	return safe.ProxyFactory
}

// PrepareDeployment builds the unsigned deployment transaction for an
// account on targetChainID, mirroring the owner configuration of the
// workspace's account on sourceChainID. The predicted address depends only on
// the owner set, threshold and the source account's address, so repeated
// calls with an unchanged source return the same address.
func (s *DeploymentService) PrepareDeployment(ctx context.Context, workspaceID uuid.UUID, sourceChainID, targetChainID uint64, accountType models.AccountType) (*DeploymentPlan, error) {
	if !accountType.Valid() {
		return nil, fmt.Errorf("invalid account type %q", accountType)
	}
	if _, err := s.registry.Get(sourceChainID); err != nil {
		return nil, err
	}
	targetDesc, err := s.registry.Get(targetChainID)
	if err != nil {
		return nil, err
	}

	source, err := s.accounts.Find(ctx, workspaceID, sourceChainID, accountType)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: workspace %s has no %s account on chain %d",
			treasury.ErrSourceAccountMissing, workspaceID, accountType, sourceChainID)
	}
	sourceAddr := common.HexToAddress(source.Address)

	// Ownership can change after the source was deployed, so always read it
	// fresh from the source chain.
	owners, err := s.reader.SafeOwners(ctx, sourceChainID, sourceAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to read source owners: %w", err)
	}
	threshold, err := s.reader.SafeThreshold(ctx, sourceChainID, sourceAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to read source threshold: %w", err)
	}
	cfg := safe.AccountConfig{Owners: owners, Threshold: threshold}
	initializer, err := safe.EncodeSetup(cfg)
	if err != nil {
		return nil, err
	}

	saltNonce := safe.SaltFromSourceAddress(sourceAddr)
	factory := s.factoryFor(targetDesc)
	creationCode, err := s.reader.ProxyCreationCode(ctx, targetChainID, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proxy creation code: %w", err)
	}
	predicted := safe.PredictAddress(factory, creationCode, initializer, saltNonce)

	existing, err := s.accounts.Find(ctx, workspaceID, targetChainID, accountType)
	if err != nil {
		return nil, err
	}
	alreadyRegistered := false
	if existing != nil {
		if !strings.EqualFold(existing.Address, predicted.Hex()) {
			return nil, fmt.Errorf("%w: registered %s, predicted %s on chain %d",
				treasury.ErrAddressConflict, existing.Address, predicted.Hex(), targetChainID)
		}
		alreadyRegistered = true
	}

	code, err := s.reader.GetBytecode(ctx, targetChainID, predicted)
	if err != nil {
		return nil, err
	}

	data, err := safe.EncodeCreateProxyWithNonce(initializer, saltNonce)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"workspace_id":      workspaceID,
		"source_chain_id":   sourceChainID,
		"target_chain_id":   targetChainID,
		"account_type":      accountType,
		"predicted_address": predicted.Hex(),
	}).Info("Prepared account deployment")

	return &DeploymentPlan{
		Transaction: treasury.Transaction{
			To:      factory,
			Data:    data,
			Value:   big.NewInt(0),
			ChainID: targetChainID,
		},
		PredictedAddress:  predicted,
		Owners:            owners,
		Threshold:         threshold,
		AlreadyRegistered: alreadyRegistered,
		AlreadyDeployed:   len(code) > 0,
	}, nil
}

// RegisteredDeployment looks up the workspace's account record on a chain
// and reports whether its bytecode is live. A nil address means no record
// exists. This is the cheap pre-check before a full deployment preparation:
// it touches only the target chain.
func (s *DeploymentService) RegisteredDeployment(ctx context.Context, workspaceID uuid.UUID, chainID uint64, accountType models.AccountType) (*common.Address, bool, error) {
	record, err := s.accounts.Find(ctx, workspaceID, chainID, accountType)
	if err != nil || record == nil {
		return nil, false, err
	}
	addr := common.HexToAddress(record.Address)
	code, err := s.reader.GetBytecode(ctx, chainID, addr)
	if err != nil {
		return &addr, false, err
	}
	return &addr, len(code) > 0, nil
}

// RegisterAccount records a deployed account after on-chain bytecode is
// confirmed present. The insert is idempotent, so retries and concurrent
// registrations converge on one record.
func (s *DeploymentService) RegisterAccount(ctx context.Context, workspaceID uuid.UUID, chainID uint64, accountType models.AccountType, address common.Address, txHash string) (*models.Account, error) {
	if !accountType.Valid() {
		return nil, fmt.Errorf("invalid account type %q", accountType)
	}
	if _, err := s.registry.Get(chainID); err != nil {
		return nil, err
	}

	// The deployment transaction was confirmed by the caller, so the cache
	// may still hold the pre-deployment empty bytecode.
	s.reader.InvalidateChain(chainID)
	code, err := s.reader.GetBytecode(ctx, chainID, address)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: no bytecode at %s on chain %d",
			treasury.ErrDeploymentTxFailed, address.Hex(), chainID)
	}

	existing, err := s.accounts.Find(ctx, workspaceID, chainID, accountType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !strings.EqualFold(existing.Address, address.Hex()) {
			return nil, fmt.Errorf("%w: registered %s, deployed %s on chain %d",
				treasury.ErrAddressConflict, existing.Address, address.Hex(), chainID)
		}
		return existing, nil
	}

	now := time.Now()
	account := &models.Account{
		WorkspaceID: workspaceID,
		ChainID:     chainID,
		AccountType: accountType,
		Address:     address.Hex(),
		DeployedAt:  &now,
	}
	if txHash != "" {
		account.DeploymentTxHash = &txHash
	}
	if err := s.accounts.Insert(ctx, account); err != nil {
		return nil, err
	}

	s.events.Publish(SubjectAccountDeployed, AccountDeployedEvent{
		WorkspaceID: workspaceID.String(),
		ChainID:     chainID,
		AccountType: string(accountType),
		Address:     address.Hex(),
		TxHash:      txHash,
		Timestamp:   now,
	})
	s.log.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"chain_id":     chainID,
		"address":      address.Hex(),
	}).Info("Registered deployed account")
	return account, nil
}

// MultiChainStatus reports, per supported chain, whether the workspace has a
// registered account of the given type and whether bytecode is present at
// its address.
func (s *DeploymentService) MultiChainStatus(ctx context.Context, workspaceID uuid.UUID, accountType models.AccountType) ([]ChainAccountStatus, error) {
	if !accountType.Valid() {
		return nil, fmt.Errorf("invalid account type %q", accountType)
	}
	records, err := s.accounts.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	byChain := make(map[uint64]*models.Account)
	for i := range records {
		if records[i].AccountType == accountType {
			byChain[records[i].ChainID] = &records[i]
		}
	}

	var statuses []ChainAccountStatus
	for _, desc := range s.registry.All() {
		status := ChainAccountStatus{ChainID: desc.ChainID, ChainName: desc.Name}
		if record, ok := byChain[desc.ChainID]; ok {
			addr := record.Address
			status.Address = &addr
			code, err := s.reader.GetBytecode(ctx, desc.ChainID, common.HexToAddress(record.Address))
			if err != nil {
				s.log.WithError(err).WithField("chain_id", desc.ChainID).Warn("Bytecode check failed")
			} else {
				status.Deployed = len(code) > 0
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
