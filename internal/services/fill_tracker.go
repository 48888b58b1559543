package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"treasury-backend/internal/clients"
	"treasury-backend/internal/repository"
	"treasury-backend/internal/treasury"
)

// DepositStatusAPI is the slice of the Across client the tracker polls.
type DepositStatusAPI interface {
	GetDepositStatus(ctx context.Context, originChainID uint64, depositTxHash string) (*clients.DepositStatusResponse, error)
}

// TransferStatusAPI is the slice of the LI.FI client the tracker polls for
// transfers the ledger attributes to LI.FI.
type TransferStatusAPI interface {
	GetStatus(ctx context.Context, txHash string, fromChain, toChain uint64) (*clients.LiFiStatusResponse, error)
}

// FillTracker polls the bridge provider a deposit was routed through until
// its destination-side fill is observed or the attempt budget runs out. It
// bounds caller wait time rather than guaranteeing an outcome: exhausting
// the budget yields a pending result, never an error, and tracking can be
// resumed later.
type FillTracker struct {
	across    DepositStatusAPI
	lifi      TransferStatusAPI
	transfers repository.TransferRepository
	events    *EventPublisher
	log       *logrus.Entry

	initialDelay time.Duration
	maxDelay     time.Duration
	backoff      float64
	maxAttempts  int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFillTracker builds a tracker with the standard polling budget: delays
// from 1s growing by 1.5x up to 30s, 60 attempts.
func NewFillTracker(across DepositStatusAPI, lifi TransferStatusAPI, transfers repository.TransferRepository, events *EventPublisher) *FillTracker {
	return &FillTracker{
		across:       across,
		lifi:         lifi,
		transfers:    transfers,
		events:       events,
		log:          logrus.WithField("component", "fill_tracker"),
		initialDelay: time.Second,
		maxDelay:     30 * time.Second,
		backoff:      1.5,
		maxAttempts:  60,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FillResult is the terminal outcome of one tracking run.
type FillResult struct {
	Status     treasury.FillStatus `json:"status"`
	FillTxHash string              `json:"fillTxHash,omitempty"`
	Attempts   int                 `json:"attempts"`
}

// fillObservation is one provider poll, normalized across providers.
type fillObservation struct {
	filled     bool
	fillTxHash string
	destChain  uint64
}

// route resolves which provider to poll from the ledger row. Deposits with
// no ledger row, or recorded before LI.FI tracking existed, fall back to
// Across.
func (t *FillTracker) route(ctx context.Context, depositTxHash string) (provider string, destChainID uint64) {
	provider = ProviderAcross
	if t.transfers == nil {
		return provider, 0
	}
	transfer, err := t.transfers.GetByDepositTx(ctx, depositTxHash)
	if err != nil || transfer == nil {
		return provider, 0
	}
	if transfer.Provider != "" {
		provider = transfer.Provider
	}
	return provider, transfer.DestChainID
}

func (t *FillTracker) poll(ctx context.Context, sourceChainID uint64, depositTxHash, provider string, destChainID uint64) (*fillObservation, error) {
	if provider == ProviderLiFi && t.lifi != nil {
		status, err := t.lifi.GetStatus(ctx, depositTxHash, sourceChainID, destChainID)
		if err != nil {
			return nil, err
		}
		return &fillObservation{
			filled:     status.Done(),
			fillTxHash: status.Receiving.TxHash,
			destChain:  status.Receiving.ChainID,
		}, nil
	}
	status, err := t.across.GetDepositStatus(ctx, sourceChainID, depositTxHash)
	if err != nil {
		return nil, err
	}
	return &fillObservation{
		filled:     status.Filled(),
		fillTxHash: status.FillTxHash,
		destChain:  status.DestinationChain,
	}, nil
}

// TrackDeposit polls the routed provider's status endpoint for the deposit.
// A transient polling error consumes an attempt and waits out the current
// backoff delay like any unfilled poll. Cancellation of ctx stops tracking
// immediately with the context's error.
func (t *FillTracker) TrackDeposit(ctx context.Context, sourceChainID uint64, depositTxHash string) (*FillResult, error) {
	delay := t.initialDelay
	provider, destChainID := t.route(ctx, depositTxHash)
	log := t.log.WithFields(logrus.Fields{
		"source_chain_id": sourceChainID,
		"deposit_tx_hash": depositTxHash,
		"provider":        provider,
	})

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		obs, err := t.poll(ctx, sourceChainID, depositTxHash, provider, destChainID)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Debug("Status poll failed, will retry")
		} else if obs.filled {
			t.recordFill(ctx, sourceChainID, depositTxHash, obs)
			log.WithField("attempt", attempt).Info("Bridge deposit filled")
			return &FillResult{
				Status:     treasury.FillStatusFilled,
				FillTxHash: obs.fillTxHash,
				Attempts:   attempt,
			}, nil
		}

		if attempt == t.maxAttempts {
			break
		}
		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = nextDelay(delay, t.backoff, t.maxDelay)
	}

	log.Info("Fill polling budget exhausted, deposit still pending")
	return &FillResult{Status: treasury.FillStatusPending, Attempts: t.maxAttempts}, nil
}

// CheckDeposit performs a single status poll without any retry loop. A fill
// observed here updates the ledger the same way a tracked fill does.
func (t *FillTracker) CheckDeposit(ctx context.Context, sourceChainID uint64, depositTxHash string) (*FillResult, error) {
	provider, destChainID := t.route(ctx, depositTxHash)
	obs, err := t.poll(ctx, sourceChainID, depositTxHash, provider, destChainID)
	if err != nil {
		return nil, err
	}
	if obs.filled {
		t.recordFill(ctx, sourceChainID, depositTxHash, obs)
		return &FillResult{Status: treasury.FillStatusFilled, FillTxHash: obs.fillTxHash, Attempts: 1}, nil
	}
	return &FillResult{Status: treasury.FillStatusPending, Attempts: 1}, nil
}

func nextDelay(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}

// recordFill updates the ledger and announces the fill. Both are best
// effort; the tracker's result does not depend on them.
func (t *FillTracker) recordFill(ctx context.Context, sourceChainID uint64, depositTxHash string, obs *fillObservation) {
	if t.transfers != nil {
		if err := t.transfers.MarkFilled(ctx, depositTxHash, obs.fillTxHash); err != nil {
			t.log.WithError(err).Warn("Failed to mark transfer filled")
		}
	}

	event := BridgeFilledEvent{
		SourceChainID: sourceChainID,
		DestChainID:   obs.destChain,
		DepositTxHash: depositTxHash,
		FillTxHash:    obs.fillTxHash,
		Timestamp:     time.Now(),
	}
	if t.transfers != nil {
		if transfer, err := t.transfers.GetByDepositTx(ctx, depositTxHash); err == nil && transfer != nil {
			event.WorkspaceID = transfer.WorkspaceID.String()
			if event.DestChainID == 0 {
				event.DestChainID = transfer.DestChainID
			}
		}
	}
	t.events.Publish(SubjectBridgeFilled, event)
}
