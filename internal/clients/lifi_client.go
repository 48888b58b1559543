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

const defaultLiFiBaseURL = "https://li.quest/v1"

// LiFiClient talks to the LI.FI aggregator API.
type LiFiClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLiFiClient creates a client. An empty baseURL selects the production
// API.
func NewLiFiClient(baseURL string) *LiFiClient {
	if baseURL == "" {
		baseURL = defaultLiFiBaseURL
	}
	return &LiFiClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// LiFiQuoteRequest is the input for a route quote.
type LiFiQuoteRequest struct {
	FromChain   uint64
	ToChain     uint64
	FromToken   string
	ToToken     string
	FromAmount  string // raw smallest-unit amount
	FromAddress string
	ToAddress   string
	Slippage    float64 // fraction, e.g. 0.005
}

// LiFiFeeCost is one fee line item in a quote estimate.
type LiFiFeeCost struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
	Token  struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"token"`
	Included bool `json:"included"`
}

// LiFiEstimate is the amounts-and-fees section of a quote.
type LiFiEstimate struct {
	FromAmount        string        `json:"fromAmount"`
	ToAmount          string        `json:"toAmount"`
	ToAmountMin       string        `json:"toAmountMin"`
	ApprovalAddress   string        `json:"approvalAddress"`
	ExecutionDuration float64       `json:"executionDuration"` // seconds
	FeeCosts          []LiFiFeeCost `json:"feeCosts"`
}

// LiFiTransactionRequest is the ready-made calldata LI.FI returns.
type LiFiTransactionRequest struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
	ChainID uint64 `json:"chainId"`
}

// LiFiQuoteResponse is the raw LI.FI quote.
type LiFiQuoteResponse struct {
	ID                 string                  `json:"id"`
	Tool               string                  `json:"tool"`
	Estimate           LiFiEstimate            `json:"estimate"`
	TransactionRequest *LiFiTransactionRequest `json:"transactionRequest"`
}

// GetQuote fetches the best route for a transfer.
func (c *LiFiClient) GetQuote(ctx context.Context, req LiFiQuoteRequest) (*LiFiQuoteResponse, error) {
	params := url.Values{}
	params.Set("fromChain", strconv.FormatUint(req.FromChain, 10))
	params.Set("toChain", strconv.FormatUint(req.ToChain, 10))
	params.Set("fromToken", req.FromToken)
	params.Set("toToken", req.ToToken)
	params.Set("fromAmount", req.FromAmount)
	params.Set("fromAddress", req.FromAddress)
	if req.ToAddress != "" {
		params.Set("toAddress", req.ToAddress)
	}
	if req.Slippage > 0 {
		params.Set("slippage", strconv.FormatFloat(req.Slippage, 'f', -1, 64))
	}

	reqURL := fmt.Sprintf("%s/quote?%s", c.baseURL, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, treasury.WrapProviderError("lifi", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, treasury.NewProviderError("lifi", httpResp.StatusCode, string(body))
	}

	var quote LiFiQuoteResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&quote); err != nil {
		return nil, treasury.WrapProviderError("lifi", fmt.Errorf("failed to decode response: %w", err))
	}
	return &quote, nil
}

// GetStatus looks up the execution state of a previously submitted transfer.
func (c *LiFiClient) GetStatus(ctx context.Context, txHash string, fromChain, toChain uint64) (*LiFiStatusResponse, error) {
	params := url.Values{}
	params.Set("txHash", txHash)
	params.Set("fromChain", strconv.FormatUint(fromChain, 10))
	params.Set("toChain", strconv.FormatUint(toChain, 10))

	reqURL := fmt.Sprintf("%s/status?%s", c.baseURL, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, treasury.WrapProviderError("lifi", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, treasury.NewProviderError("lifi", httpResp.StatusCode, string(body))
	}

	var status LiFiStatusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&status); err != nil {
		return nil, treasury.WrapProviderError("lifi", fmt.Errorf("failed to decode response: %w", err))
	}
	return &status, nil
}

// LiFiStatusResponse is the raw transfer status.
type LiFiStatusResponse struct {
	Status    string `json:"status"` // NOT_FOUND, PENDING, DONE, FAILED
	Substatus string `json:"substatus"`
	Receiving struct {
		TxHash  string `json:"txHash"`
		ChainID uint64 `json:"chainId"`
	} `json:"receiving"`
}

// Done reports whether the transfer completed on the destination chain.
func (s *LiFiStatusResponse) Done() bool {
	return s.Status == "DONE"
}
