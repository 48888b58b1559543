package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"treasury-backend/internal/treasury"
)

const defaultAcrossBaseURL = "https://app.across.to/api"

// AcrossClient talks to the Across REST API for fee quotes and deposit
// status.
type AcrossClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAcrossClient creates a client. An empty baseURL selects the production
// API.
func NewAcrossClient(baseURL string) *AcrossClient {
	if baseURL == "" {
		baseURL = defaultAcrossBaseURL
	}
	return &AcrossClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SuggestedFeesRequest is the input for a fee quote.
type SuggestedFeesRequest struct {
	InputToken         string
	OutputToken        string
	OriginChainID      uint64
	DestinationChainID uint64
	Amount             string // raw smallest-unit amount
	Recipient          string
	Message            string // hex-encoded, optional
}

// FeeComponent is Across's fee representation: a total in smallest units and
// a percentage scaled to 1e18.
type FeeComponent struct {
	Total string `json:"total"`
	Pct   string `json:"pct"`
}

// SuggestedFeesResponse is the raw Across quote.
type SuggestedFeesResponse struct {
	TotalRelayFee        FeeComponent `json:"totalRelayFee"`
	RelayerCapitalFee    FeeComponent `json:"relayerCapitalFee"`
	RelayerGasFee        FeeComponent `json:"relayerGasFee"`
	LpFee                FeeComponent `json:"lpFee"`
	Timestamp            string       `json:"timestamp"`
	IsAmountTooLow       bool         `json:"isAmountTooLow"`
	SpokePoolAddress     string       `json:"spokePoolAddress"`
	ExclusiveRelayer     string       `json:"exclusiveRelayer"`
	ExclusivityDeadline  uint32       `json:"exclusivityDeadline"`
	FillDeadline         string       `json:"fillDeadline"`
	EstimatedFillTimeSec int          `json:"estimatedFillTimeSec"`
}

// GetSuggestedFees fetches a relay fee quote for a transfer.
func (c *AcrossClient) GetSuggestedFees(ctx context.Context, req SuggestedFeesRequest) (*SuggestedFeesResponse, error) {
	params := url.Values{}
	params.Set("inputToken", req.InputToken)
	params.Set("outputToken", req.OutputToken)
	params.Set("originChainId", strconv.FormatUint(req.OriginChainID, 10))
	params.Set("destinationChainId", strconv.FormatUint(req.DestinationChainID, 10))
	params.Set("amount", req.Amount)
	if req.Recipient != "" {
		params.Set("recipient", req.Recipient)
	}
	if req.Message != "" {
		params.Set("message", req.Message)
	}

	var resp SuggestedFeesResponse
	if err := c.getJSON(ctx, "/suggested-fees", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DepositStatusResponse is the fill state of one deposit.
type DepositStatusResponse struct {
	Status            string `json:"status"` // "filled" or "pending"
	FillTxHash        string `json:"fillTx"`
	DestinationChain  uint64 `json:"destinationChainId"`
	DepositRefundTxns string `json:"depositRefundTxHash"`
}

// Filled reports whether the deposit has been relayed on the destination.
func (s *DepositStatusResponse) Filled() bool {
	return s.Status == "filled"
}

// GetDepositStatus looks up the fill state of a deposit by its origin
// transaction hash.
func (c *AcrossClient) GetDepositStatus(ctx context.Context, originChainID uint64, depositTxHash string) (*DepositStatusResponse, error) {
	params := url.Values{}
	params.Set("originChainId", strconv.FormatUint(originChainID, 10))
	params.Set("depositTxHash", depositTxHash)

	var resp DepositStatusResponse
	if err := c.getJSON(ctx, "/deposit/status", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *AcrossClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return treasury.WrapProviderError("across", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return treasury.NewProviderError("across", httpResp.StatusCode, string(body))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return treasury.WrapProviderError("across", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
