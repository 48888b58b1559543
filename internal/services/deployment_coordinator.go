package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"treasury-backend/internal/models"
	"treasury-backend/internal/treasury"
)

// DeploymentPhase names one state of the deployment lifecycle.
type DeploymentPhase string

const (
	PhaseIdle            DeploymentPhase = "idle"
	PhaseChecking        DeploymentPhase = "checking"
	PhaseDeployed        DeploymentPhase = "deployed"
	PhaseNeedsDeployment DeploymentPhase = "needs_deployment"
	PhaseDeploying       DeploymentPhase = "deploying"
	PhaseSuccess         DeploymentPhase = "success"
	PhaseError           DeploymentPhase = "error"
)

// deploymentTransitions is the complete set of legal phase transitions.
// Anything absent here is rejected with ErrInvalidTransition.
var deploymentTransitions = map[DeploymentPhase][]DeploymentPhase{
	PhaseIdle:            {PhaseChecking},
	PhaseChecking:        {PhaseDeployed, PhaseNeedsDeployment, PhaseError},
	PhaseNeedsDeployment: {PhaseDeploying},
	PhaseDeploying:       {PhaseSuccess, PhaseError},
	PhaseError:           {PhaseIdle},
}

// DeploymentState is the coordinator's current position, a tagged union:
// only the fields relevant to the phase are populated.
type DeploymentState struct {
	Phase   DeploymentPhase `json:"phase"`
	Address *common.Address `json:"address,omitempty"` // deployed, success
	Plan    *DeploymentPlan `json:"plan,omitempty"`    // needs_deployment
	TxHash  string          `json:"txHash,omitempty"`  // success
	Message string          `json:"message,omitempty"` // error
}

// Signer signs and broadcasts a transaction, returning its hash. The
// coordinator never holds keys; production signers live outside this core.
type Signer interface {
	SignAndSend(ctx context.Context, tx treasury.Transaction) (common.Hash, error)
}

// TxWaiter waits for a transaction receipt.
type TxWaiter interface {
	WaitForTransaction(ctx context.Context, chainID uint64, txHash common.Hash, pollInterval time.Duration) (*types.Receipt, error)
}

// DeploymentCoordinator drives one account deployment through its state
// machine. One coordinator per (workspace, source chain, target chain,
// account type); discard it when the flow completes.
type DeploymentCoordinator struct {
	service *DeploymentService
	reader  ChainReader
	waiter  TxWaiter
	log     *logrus.Entry

	workspaceID   uuid.UUID
	sourceChainID uint64
	targetChainID uint64
	accountType   models.AccountType

	mu    sync.Mutex
	state DeploymentState
}

// NewDeploymentCoordinator starts a coordinator in the idle phase.
func NewDeploymentCoordinator(service *DeploymentService, reader ChainReader, waiter TxWaiter, workspaceID uuid.UUID, sourceChainID, targetChainID uint64, accountType models.AccountType) *DeploymentCoordinator {
	return &DeploymentCoordinator{
		service: service,
		reader:  reader,
		waiter:  waiter,
		log: logrus.WithFields(logrus.Fields{
			"component":       "deployment_coordinator",
			"workspace_id":    workspaceID,
			"target_chain_id": targetChainID,
		}),
		workspaceID:   workspaceID,
		sourceChainID: sourceChainID,
		targetChainID: targetChainID,
		accountType:   accountType,
		state:         DeploymentState{Phase: PhaseIdle},
	}
}

// State returns a snapshot of the current state.
func (c *DeploymentCoordinator) State() DeploymentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition moves to next if the table allows it from the current phase.
// Callers hold c.mu.
func (c *DeploymentCoordinator) transition(next DeploymentState) error {
	for _, allowed := range deploymentTransitions[c.state.Phase] {
		if allowed == next.Phase {
			c.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", treasury.ErrInvalidTransition, c.state.Phase, next.Phase)
}

func (c *DeploymentCoordinator) fail(err error) error {
	c.state = DeploymentState{Phase: PhaseError, Message: err.Error()}
	return err
}

// Check resolves whether the target account already exists. The persisted
// record and target-chain bytecode settle it without touching the source
// chain; only an unresolved account goes through the full preparation. Lands
// in deployed or needs_deployment.
func (c *DeploymentCoordinator) Check(ctx context.Context) (DeploymentState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transition(DeploymentState{Phase: PhaseChecking}); err != nil {
		return c.state, err
	}

	if addr, deployed, err := c.service.RegisteredDeployment(ctx, c.workspaceID, c.targetChainID, c.accountType); err == nil && deployed {
		c.state = DeploymentState{Phase: PhaseDeployed, Address: addr}
		return c.state, nil
	}

	plan, err := c.service.PrepareDeployment(ctx, c.workspaceID, c.sourceChainID, c.targetChainID, c.accountType)
	if err != nil {
		return c.state, c.fail(err)
	}

	if plan.AlreadyDeployed {
		addr := plan.PredictedAddress
		c.state = DeploymentState{Phase: PhaseDeployed, Address: &addr}
		return c.state, nil
	}
	c.state = DeploymentState{Phase: PhaseNeedsDeployment, Plan: plan}
	return c.state, nil
}

// Deploy broadcasts the prepared deployment through the signer. Valid only
// from needs_deployment; never retried automatically because the transaction
// costs gas. A bytecode re-check runs immediately before the send to narrow
// the window against a concurrent deployment from another session; the check
// is best effort, not a mutual-exclusion guarantee.
func (c *DeploymentCoordinator) Deploy(ctx context.Context, signer Signer) (DeploymentState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseNeedsDeployment || c.state.Plan == nil {
		err := fmt.Errorf("%w: deploy requires needs_deployment, current %s", treasury.ErrInvalidTransition, c.state.Phase)
		return c.state, err
	}
	plan := c.state.Plan
	if err := c.transition(DeploymentState{Phase: PhaseDeploying}); err != nil {
		return c.state, err
	}

	c.reader.InvalidateChain(c.targetChainID)
	code, err := c.reader.GetBytecode(ctx, c.targetChainID, plan.PredictedAddress)
	if err != nil {
		return c.state, c.fail(fmt.Errorf("pre-send bytecode check failed: %w", err))
	}

	var txHash common.Hash
	var hashStr string
	if len(code) == 0 {
		txHash, err = signer.SignAndSend(ctx, plan.Transaction)
		if err != nil {
			return c.state, c.fail(fmt.Errorf("deployment send failed: %w", err))
		}
		receipt, err := c.waiter.WaitForTransaction(ctx, c.targetChainID, txHash, 0)
		if err != nil {
			return c.state, c.fail(fmt.Errorf("waiting for deployment receipt: %w", err))
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return c.state, c.fail(fmt.Errorf("%w: tx %s reverted", treasury.ErrDeploymentTxFailed, txHash.Hex()))
		}
		hashStr = txHash.Hex()
	} else {
		c.log.Info("Account already deployed by another session, registering only")
	}

	if _, err := c.service.RegisterAccount(ctx, c.workspaceID, c.targetChainID, c.accountType, plan.PredictedAddress, hashStr); err != nil {
		return c.state, c.fail(err)
	}

	addr := plan.PredictedAddress
	c.state = DeploymentState{Phase: PhaseSuccess, Address: &addr, TxHash: hashStr}
	return c.state, nil
}

// Reset returns the coordinator to idle. Valid only from the error phase;
// completed flows are discarded, not reset.
func (c *DeploymentCoordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition(DeploymentState{Phase: PhaseIdle})
}
