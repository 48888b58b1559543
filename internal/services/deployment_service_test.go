package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-backend/internal/chains"
	"treasury-backend/internal/models"
	"treasury-backend/internal/treasury"
)

const (
	homeChain   = uint64(8453)
	targetChain = uint64(42161)
)

var sourceAddr = common.HexToAddress("0xAAA0000000000000000000000000000000000AAA")

func deployTestRegistry(t *testing.T) *chains.Registry {
	t.Helper()
	registry, err := chains.NewRegistry([]chains.Descriptor{
		{ChainID: homeChain, Name: "Base", RPCEndpoints: []string{"https://base"}, NativeDecimals: 18},
		{ChainID: targetChain, Name: "Arbitrum One", RPCEndpoints: []string{"https://arb"}, NativeDecimals: 18},
	})
	require.NoError(t, err)
	return registry
}

type fakeReader struct {
	owners       []common.Address
	threshold    uint64
	creationCode []byte
	bytecode     map[string][]byte
	invalidated  []uint64
	ownerReads   int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		owners:       []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")},
		threshold:    1,
		creationCode: common.Hex2Bytes("608060405234801561001057600080fd"),
		bytecode:     make(map[string][]byte),
	}
}

func codeKey(chainID uint64, addr common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, addr.Hex())
}

func (f *fakeReader) GetBytecode(ctx context.Context, chainID uint64, address common.Address) ([]byte, error) {
	return f.bytecode[codeKey(chainID, address)], nil
}

func (f *fakeReader) SafeOwners(ctx context.Context, chainID uint64, account common.Address) ([]common.Address, error) {
	f.ownerReads++
	return f.owners, nil
}

func (f *fakeReader) SafeThreshold(ctx context.Context, chainID uint64, account common.Address) (uint64, error) {
	return f.threshold, nil
}

func (f *fakeReader) ProxyCreationCode(ctx context.Context, chainID uint64, factory common.Address) ([]byte, error) {
	return f.creationCode, nil
}

func (f *fakeReader) InvalidateChain(chainID uint64) {
	f.invalidated = append(f.invalidated, chainID)
}

// memAccounts is an in-memory AccountRepository.
type memAccounts struct {
	records []models.Account
}

func (m *memAccounts) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Account, error) {
	var out []models.Account
	for _, r := range m.records {
		if r.WorkspaceID == workspaceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAccounts) Find(ctx context.Context, workspaceID uuid.UUID, chainID uint64, accountType models.AccountType) (*models.Account, error) {
	for i, r := range m.records {
		if r.WorkspaceID == workspaceID && r.ChainID == chainID && r.AccountType == accountType {
			return &m.records[i], nil
		}
	}
	return nil, nil
}

func (m *memAccounts) FindByAddress(ctx context.Context, address string) ([]models.Account, error) {
	var out []models.Account
	for _, r := range m.records {
		if r.Address == address {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAccounts) Insert(ctx context.Context, account *models.Account) error {
	if existing, _ := m.Find(ctx, account.WorkspaceID, account.ChainID, account.AccountType); existing != nil {
		return nil
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	m.records = append(m.records, *account)
	return nil
}

func (m *memAccounts) AdoptOrphans(ctx context.Context, userID, workspaceID uuid.UUID) (int64, error) {
	var claimed int64
	for i := range m.records {
		if m.records[i].UserID != nil && *m.records[i].UserID == userID && m.records[i].WorkspaceID == uuid.Nil {
			m.records[i].WorkspaceID = workspaceID
			claimed++
		}
	}
	return claimed, nil
}

func (m *memAccounts) Delete(ctx context.Context, workspaceID, id uuid.UUID) (int64, error) {
	for i, r := range m.records {
		if r.ID == id && r.WorkspaceID == workspaceID {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func newTestDeployment(t *testing.T) (*DeploymentService, *memAccounts, *fakeReader, uuid.UUID) {
	t.Helper()
	accounts := &memAccounts{}
	reader := newFakeReader()
	svc := NewDeploymentService(accounts, reader, deployTestRegistry(t), NewEventPublisher(nil))
	workspace := uuid.New()

	accounts.records = append(accounts.records, models.Account{
		ID:          uuid.New(),
		WorkspaceID: workspace,
		ChainID:     homeChain,
		AccountType: models.AccountTypePrimary,
		Address:     sourceAddr.Hex(),
	})
	// The source account is deployed on its home chain.
	reader.bytecode[codeKey(homeChain, sourceAddr)] = []byte{0x01}
	return svc, accounts, reader, workspace
}

func TestPrepareDeploymentMissingSource(t *testing.T) {
	svc, _, _, _ := newTestDeployment(t)

	_, err := svc.PrepareDeployment(context.Background(), uuid.New(), homeChain, targetChain, models.AccountTypePrimary)
	assert.True(t, errors.Is(err, treasury.ErrSourceAccountMissing))
}

func TestPrepareDeploymentUnsupportedChain(t *testing.T) {
	svc, _, _, workspace := newTestDeployment(t)

	_, err := svc.PrepareDeployment(context.Background(), workspace, homeChain, 999, models.AccountTypePrimary)
	assert.True(t, errors.Is(err, treasury.ErrUnsupportedChain))
}

func TestPrepareDeploymentIdempotent(t *testing.T) {
	svc, _, _, workspace := newTestDeployment(t)

	first, err := svc.PrepareDeployment(context.Background(), workspace, homeChain, targetChain, models.AccountTypePrimary)
	require.NoError(t, err)
	second, err := svc.PrepareDeployment(context.Background(), workspace, homeChain, targetChain, models.AccountTypePrimary)
	require.NoError(t, err)

	assert.Equal(t, first.PredictedAddress, second.PredictedAddress)
	assert.Equal(t, first.Transaction.Data, second.Transaction.Data)
	assert.False(t, first.AlreadyRegistered)
	assert.False(t, first.AlreadyDeployed)
	assert.Zero(t, first.Transaction.Value.Sign())
	assert.Equal(t, targetChain, first.Transaction.ChainID)
}

func TestPrepareDeploymentAddressConflict(t *testing.T) {
	svc, accounts, _, workspace := newTestDeployment(t)
	accounts.records = append(accounts.records, models.Account{
		ID:          uuid.New(),
		WorkspaceID: workspace,
		ChainID:     targetChain,
		AccountType: models.AccountTypePrimary,
		Address:     "0x9999999999999999999999999999999999999999",
	})

	_, err := svc.PrepareDeployment(context.Background(), workspace, homeChain, targetChain, models.AccountTypePrimary)
	assert.True(t, errors.Is(err, treasury.ErrAddressConflict))
}

func TestPrepareDeploymentExistingMatchIsIdempotentSuccess(t *testing.T) {
	svc, accounts, reader, workspace := newTestDeployment(t)

	plan, err := svc.PrepareDeployment(context.Background(), workspace, homeChain, targetChain, models.AccountTypePrimary)
	require.NoError(t, err)

	accounts.records = append(accounts.records, models.Account{
		ID:          uuid.New(),
		WorkspaceID: workspace,
		ChainID:     targetChain,
		AccountType: models.AccountTypePrimary,
		Address:     plan.PredictedAddress.Hex(),
	})
	reader.bytecode[codeKey(targetChain, plan.PredictedAddress)] = []byte{0x01}

	again, err := svc.PrepareDeployment(context.Background(), workspace, homeChain, targetChain, models.AccountTypePrimary)
	require.NoError(t, err)
	assert.True(t, again.AlreadyRegistered)
	assert.True(t, again.AlreadyDeployed)
	assert.Equal(t, plan.PredictedAddress, again.PredictedAddress)
}

func TestRegisterAccountRequiresBytecode(t *testing.T) {
	svc, _, _, workspace := newTestDeployment(t)
	addr := common.HexToAddress("0xBBB0000000000000000000000000000000000BBB")

	_, err := svc.RegisterAccount(context.Background(), workspace, targetChain, models.AccountTypePrimary, addr, "0xtx")
	assert.True(t, errors.Is(err, treasury.ErrDeploymentTxFailed))
}

func TestRegisterAccountIdempotent(t *testing.T) {
	svc, accounts, reader, workspace := newTestDeployment(t)
	addr := common.HexToAddress("0xBBB0000000000000000000000000000000000BBB")
	reader.bytecode[codeKey(targetChain, addr)] = []byte{0x01}

	first, err := svc.RegisterAccount(context.Background(), workspace, targetChain, models.AccountTypePrimary, addr, "0xtx")
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), first.Address)
	assert.Contains(t, reader.invalidated, targetChain)

	second, err := svc.RegisterAccount(context.Background(), workspace, targetChain, models.AccountTypePrimary, addr, "0xtx")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := accounts.ListByWorkspace(context.Background(), workspace)
	require.NoError(t, err)
	assert.Len(t, all, 2) // home account + registered target
}

func TestMultiChainStatus(t *testing.T) {
	svc, _, _, workspace := newTestDeployment(t)

	statuses, err := svc.MultiChainStatus(context.Background(), workspace, models.AccountTypePrimary)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byChain := make(map[uint64]ChainAccountStatus)
	for _, s := range statuses {
		byChain[s.ChainID] = s
	}
	require.NotNil(t, byChain[homeChain].Address)
	assert.True(t, byChain[homeChain].Deployed)
	assert.Nil(t, byChain[targetChain].Address)
	assert.False(t, byChain[targetChain].Deployed)
}

// fakeSigner broadcasts by marking bytecode present at the deployed address.
type fakeSigner struct {
	reader    *fakeReader
	target    common.Address
	chainID   uint64
	failWith  error
	sendCount int
}

func (s *fakeSigner) SignAndSend(ctx context.Context, tx treasury.Transaction) (common.Hash, error) {
	s.sendCount++
	if s.failWith != nil {
		return common.Hash{}, s.failWith
	}
	s.reader.bytecode[codeKey(s.chainID, s.target)] = []byte{0x01}
	return common.HexToHash("0xc0ffee"), nil
}

type fakeWaiter struct {
	status uint64
}

func (w *fakeWaiter) WaitForTransaction(ctx context.Context, chainID uint64, txHash common.Hash, pollInterval time.Duration) (*types.Receipt, error) {
	return &types.Receipt{Status: w.status, TxHash: txHash}, nil
}

func TestCoordinatorHappyPath(t *testing.T) {
	svc, _, reader, workspace := newTestDeployment(t)
	coord := NewDeploymentCoordinator(svc, reader, &fakeWaiter{status: types.ReceiptStatusSuccessful},
		workspace, homeChain, targetChain, models.AccountTypePrimary)

	assert.Equal(t, PhaseIdle, coord.State().Phase)

	state, err := coord.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseNeedsDeployment, state.Phase)
	require.NotNil(t, state.Plan)

	signer := &fakeSigner{reader: reader, target: state.Plan.PredictedAddress, chainID: targetChain}
	state, err = coord.Deploy(context.Background(), signer)
	require.NoError(t, err)
	assert.Equal(t, PhaseSuccess, state.Phase)
	require.NotNil(t, state.Address)
	assert.Nil(t, state.Plan)
	assert.Equal(t, 1, signer.sendCount)
	assert.NotEmpty(t, state.TxHash)
}

func TestCoordinatorCheckDeployed(t *testing.T) {
	svc, _, reader, workspace := newTestDeployment(t)

	plan, err := svc.PrepareDeployment(context.Background(), workspace, homeChain, targetChain, models.AccountTypePrimary)
	require.NoError(t, err)
	reader.bytecode[codeKey(targetChain, plan.PredictedAddress)] = []byte{0x01}

	coord := NewDeploymentCoordinator(svc, reader, &fakeWaiter{status: types.ReceiptStatusSuccessful},
		workspace, homeChain, targetChain, models.AccountTypePrimary)
	state, err := coord.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseDeployed, state.Phase)
	require.NotNil(t, state.Address)
	assert.Equal(t, plan.PredictedAddress, *state.Address)
}

func TestCoordinatorCheckShortCircuitsOnRegisteredDeployment(t *testing.T) {
	svc, accounts, reader, workspace := newTestDeployment(t)

	registered := common.HexToAddress("0xBBB0000000000000000000000000000000000BBB")
	accounts.records = append(accounts.records, models.Account{
		ID:          uuid.New(),
		WorkspaceID: workspace,
		ChainID:     targetChain,
		AccountType: models.AccountTypePrimary,
		Address:     registered.Hex(),
	})
	reader.bytecode[codeKey(targetChain, registered)] = []byte{0x01}

	coord := NewDeploymentCoordinator(svc, reader, &fakeWaiter{status: types.ReceiptStatusSuccessful},
		workspace, homeChain, targetChain, models.AccountTypePrimary)
	state, err := coord.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseDeployed, state.Phase)
	require.NotNil(t, state.Address)
	assert.Equal(t, registered, *state.Address)

	// The record plus target-chain bytecode settle the question; the source
	// chain's owner configuration is never read.
	assert.Equal(t, 0, reader.ownerReads)
}

func TestCoordinatorDeployFromWrongPhase(t *testing.T) {
	svc, _, reader, workspace := newTestDeployment(t)
	coord := NewDeploymentCoordinator(svc, reader, &fakeWaiter{status: types.ReceiptStatusSuccessful},
		workspace, homeChain, targetChain, models.AccountTypePrimary)

	_, err := coord.Deploy(context.Background(), &fakeSigner{reader: reader, chainID: targetChain})
	assert.True(t, errors.Is(err, treasury.ErrInvalidTransition))
	assert.Equal(t, PhaseIdle, coord.State().Phase)
}

func TestCoordinatorErrorAndReset(t *testing.T) {
	svc, _, reader, _ := newTestDeployment(t)
	// Wrong workspace: the source account is missing.
	coord := NewDeploymentCoordinator(svc, reader, &fakeWaiter{status: types.ReceiptStatusSuccessful},
		uuid.New(), homeChain, targetChain, models.AccountTypePrimary)

	state, err := coord.Check(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseError, state.Phase)
	assert.NotEmpty(t, state.Message)

	require.NoError(t, coord.Reset())
	assert.Equal(t, PhaseIdle, coord.State().Phase)

	// Reset is only legal from the error phase.
	assert.True(t, errors.Is(coord.Reset(), treasury.ErrInvalidTransition))
}

func TestCoordinatorSignerFailure(t *testing.T) {
	svc, _, reader, workspace := newTestDeployment(t)
	coord := NewDeploymentCoordinator(svc, reader, &fakeWaiter{status: types.ReceiptStatusSuccessful},
		workspace, homeChain, targetChain, models.AccountTypePrimary)

	state, err := coord.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseNeedsDeployment, state.Phase)

	signer := &fakeSigner{reader: reader, chainID: targetChain, failWith: errors.New("user rejected")}
	state, err = coord.Deploy(context.Background(), signer)
	require.Error(t, err)
	assert.Equal(t, PhaseError, state.Phase)
	assert.Contains(t, state.Message, "user rejected")
}

func TestCoordinatorSkipsSendWhenAlreadyDeployed(t *testing.T) {
	svc, _, reader, workspace := newTestDeployment(t)
	coord := NewDeploymentCoordinator(svc, reader, &fakeWaiter{status: types.ReceiptStatusSuccessful},
		workspace, homeChain, targetChain, models.AccountTypePrimary)

	state, err := coord.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseNeedsDeployment, state.Phase)

	// Another session deploys between check and send.
	reader.bytecode[codeKey(targetChain, state.Plan.PredictedAddress)] = []byte{0x01}

	signer := &fakeSigner{reader: reader, target: state.Plan.PredictedAddress, chainID: targetChain}
	state, err = coord.Deploy(context.Background(), signer)
	require.NoError(t, err)
	assert.Equal(t, PhaseSuccess, state.Phase)
	assert.Zero(t, signer.sendCount, "no transaction when bytecode already present")
	assert.Empty(t, state.TxHash)
}
