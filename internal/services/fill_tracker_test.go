package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-backend/internal/clients"
	"treasury-backend/internal/models"
	"treasury-backend/internal/treasury"
)

type scriptedStatus struct {
	results []func() (*clients.DepositStatusResponse, error)
	calls   int
}

func (s *scriptedStatus) GetDepositStatus(ctx context.Context, originChainID uint64, depositTxHash string) (*clients.DepositStatusResponse, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		return &clients.DepositStatusResponse{Status: "pending"}, nil
	}
	return s.results[idx]()
}

func pendingResult() func() (*clients.DepositStatusResponse, error) {
	return func() (*clients.DepositStatusResponse, error) {
		return &clients.DepositStatusResponse{Status: "pending"}, nil
	}
}

func errorResult() func() (*clients.DepositStatusResponse, error) {
	return func() (*clients.DepositStatusResponse, error) {
		return nil, errors.New("connection reset")
	}
}

func filledResult(fillTx string) func() (*clients.DepositStatusResponse, error) {
	return func() (*clients.DepositStatusResponse, error) {
		return &clients.DepositStatusResponse{Status: "filled", FillTxHash: fillTx, DestinationChain: 8453}, nil
	}
}

// instantTracker swaps real sleeping for delay recording.
func instantTracker(status DepositStatusAPI) (*FillTracker, *[]time.Duration) {
	tracker := NewFillTracker(status, nil, nil, NewEventPublisher(nil))
	delays := &[]time.Duration{}
	tracker.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return tracker, delays
}

func TestTrackDepositFilledAfterTransientErrors(t *testing.T) {
	status := &scriptedStatus{results: []func() (*clients.DepositStatusResponse, error){
		errorResult(), errorResult(), errorResult(), errorResult(),
		filledResult("0xfill"),
	}}
	tracker, _ := instantTracker(status)

	result, err := tracker.TrackDeposit(context.Background(), 42161, "0xdeposit")
	require.NoError(t, err)
	assert.Equal(t, treasury.FillStatusFilled, result.Status)
	assert.Equal(t, "0xfill", result.FillTxHash)
	assert.Equal(t, 5, result.Attempts)
	assert.Equal(t, 5, status.calls)
}

func TestTrackDepositExhaustsBudget(t *testing.T) {
	status := &scriptedStatus{}
	tracker, delays := instantTracker(status)

	result, err := tracker.TrackDeposit(context.Background(), 42161, "0xdeposit")
	require.NoError(t, err)
	assert.Equal(t, treasury.FillStatusPending, result.Status)
	assert.Equal(t, 60, result.Attempts)
	assert.Equal(t, 60, status.calls)
	assert.Len(t, *delays, 59, "no sleep after the final attempt")
}

func TestBackoffMonotonicAndBounded(t *testing.T) {
	status := &scriptedStatus{}
	tracker, delays := instantTracker(status)

	_, err := tracker.TrackDeposit(context.Background(), 42161, "0xdeposit")
	require.NoError(t, err)

	require.NotEmpty(t, *delays)
	assert.Equal(t, time.Second, (*delays)[0])
	for i := 1; i < len(*delays); i++ {
		assert.GreaterOrEqual(t, (*delays)[i], (*delays)[i-1], "delay %d decreased", i)
		assert.LessOrEqual(t, (*delays)[i], 30*time.Second, "delay %d above ceiling", i)
	}
	assert.Equal(t, 30*time.Second, (*delays)[len(*delays)-1])
}

func TestTrackDepositContextCancelled(t *testing.T) {
	status := &scriptedStatus{results: []func() (*clients.DepositStatusResponse, error){
		pendingResult(),
	}}
	tracker := NewFillTracker(status, nil, nil, NewEventPublisher(nil))
	ctx, cancel := context.WithCancel(context.Background())
	tracker.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := tracker.TrackDeposit(ctx, 42161, "0xdeposit")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTrackDepositImmediateFill(t *testing.T) {
	status := &scriptedStatus{results: []func() (*clients.DepositStatusResponse, error){
		filledResult("0xfast"),
	}}
	tracker, delays := instantTracker(status)

	result, err := tracker.TrackDeposit(context.Background(), 8453, "0xdeposit")
	require.NoError(t, err)
	assert.Equal(t, treasury.FillStatusFilled, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, *delays)
}

func TestCheckDepositSinglePoll(t *testing.T) {
	status := &scriptedStatus{results: []func() (*clients.DepositStatusResponse, error){
		pendingResult(),
		filledResult("0xfill"),
	}}
	tracker, delays := instantTracker(status)

	result, err := tracker.CheckDeposit(context.Background(), 42161, "0xdeposit")
	require.NoError(t, err)
	assert.Equal(t, treasury.FillStatusPending, result.Status)
	assert.Equal(t, 1, status.calls, "a single check must not loop")
	assert.Empty(t, *delays)

	result, err = tracker.CheckDeposit(context.Background(), 42161, "0xdeposit")
	require.NoError(t, err)
	assert.Equal(t, treasury.FillStatusFilled, result.Status)
	assert.Equal(t, "0xfill", result.FillTxHash)
}

func TestCheckDepositPropagatesErrors(t *testing.T) {
	status := &scriptedStatus{results: []func() (*clients.DepositStatusResponse, error){errorResult()}}
	tracker, _ := instantTracker(status)

	_, err := tracker.CheckDeposit(context.Background(), 42161, "0xdeposit")
	assert.Error(t, err)
}

type memTransfers struct {
	rows []models.BridgeTransfer
}

func (m *memTransfers) Create(ctx context.Context, transfer *models.BridgeTransfer) error {
	m.rows = append(m.rows, *transfer)
	return nil
}

func (m *memTransfers) GetByDepositTx(ctx context.Context, depositTxHash string) (*models.BridgeTransfer, error) {
	for i := range m.rows {
		if m.rows[i].DepositTxHash == depositTxHash {
			return &m.rows[i], nil
		}
	}
	return nil, nil
}

func (m *memTransfers) MarkFilled(ctx context.Context, depositTxHash, fillTxHash string) error {
	for i := range m.rows {
		if m.rows[i].DepositTxHash == depositTxHash {
			m.rows[i].Status = models.TransferStatusFilled
			m.rows[i].FillTxHash = &fillTxHash
		}
	}
	return nil
}

func (m *memTransfers) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit int) ([]models.BridgeTransfer, error) {
	return m.rows, nil
}

type scriptedLiFiStatus struct {
	results  []*clients.LiFiStatusResponse
	calls    int
	toChains []uint64
}

func (s *scriptedLiFiStatus) GetStatus(ctx context.Context, txHash string, fromChain, toChain uint64) (*clients.LiFiStatusResponse, error) {
	s.toChains = append(s.toChains, toChain)
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		return &clients.LiFiStatusResponse{Status: "PENDING"}, nil
	}
	return s.results[idx], nil
}

func lifiDone(fillTx string, chainID uint64) *clients.LiFiStatusResponse {
	status := &clients.LiFiStatusResponse{Status: "DONE"}
	status.Receiving.TxHash = fillTx
	status.Receiving.ChainID = chainID
	return status
}

func TestTrackDepositRoutesByProvider(t *testing.T) {
	transfers := &memTransfers{rows: []models.BridgeTransfer{{
		DepositTxHash: "0xdeposit",
		Provider:      ProviderLiFi,
		SourceChainID: 8453,
		DestChainID:   100,
		Status:        models.TransferStatusPending,
	}}}
	across := &scriptedStatus{}
	lifi := &scriptedLiFiStatus{results: []*clients.LiFiStatusResponse{
		{Status: "PENDING"},
		lifiDone("0xfill", 100),
	}}
	tracker := NewFillTracker(across, lifi, transfers, NewEventPublisher(nil))
	tracker.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	result, err := tracker.TrackDeposit(context.Background(), 8453, "0xdeposit")
	require.NoError(t, err)
	assert.Equal(t, treasury.FillStatusFilled, result.Status)
	assert.Equal(t, "0xfill", result.FillTxHash)
	assert.Equal(t, 2, result.Attempts)

	// A transfer the ledger attributes to LI.FI never touches the Across
	// status endpoint, and the poll targets the recorded destination chain.
	assert.Equal(t, 0, across.calls)
	assert.Equal(t, []uint64{100, 100}, lifi.toChains)

	row, err := transfers.GetByDepositTx(context.Background(), "0xdeposit")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.TransferStatusFilled, row.Status)
	require.NotNil(t, row.FillTxHash)
	assert.Equal(t, "0xfill", *row.FillTxHash)
}

func TestTrackDepositWithoutLedgerRowUsesAcross(t *testing.T) {
	across := &scriptedStatus{results: []func() (*clients.DepositStatusResponse, error){
		filledResult("0xfill"),
	}}
	lifi := &scriptedLiFiStatus{}
	tracker := NewFillTracker(across, lifi, &memTransfers{}, NewEventPublisher(nil))
	tracker.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	result, err := tracker.TrackDeposit(context.Background(), 42161, "0xunknown")
	require.NoError(t, err)
	assert.Equal(t, treasury.FillStatusFilled, result.Status)
	assert.Equal(t, 1, across.calls)
	assert.Equal(t, 0, lifi.calls)
}
