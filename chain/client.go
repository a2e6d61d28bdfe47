// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package chain provides read and submit access to the Cardano chain
// through a Blockfrost-compatible REST provider.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Reader is the chain access surface consumed by the deposit validator
// and the withdrawal builder
type Reader interface {
	Transaction(ctx context.Context, txId string) (*Transaction, error)
	TransactionUtxos(
		ctx context.Context,
		txId string,
	) (*TransactionUtxos, error)
	AddressUtxos(
		ctx context.Context,
		address string,
	) ([]AddressUtxo, error)
	LatestBlock(ctx context.Context) (*Block, error)
	ProtocolParameters(ctx context.Context) (*ProtocolParameters, error)
	SubmitTransaction(ctx context.Context, txCbor []byte) (string, error)
}

// ClientConfig configures the REST client
type ClientConfig struct {
	BaseURL   string
	ProjectID string
	Timeout   time.Duration
}

// Client is a Blockfrost-compatible REST client
type Client struct {
	config     ClientConfig
	logger     *slog.Logger
	httpClient *http.Client
}

// NewClient creates a new REST client instance
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "chain")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config: cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Transaction fetches a confirmed transaction by id. A 404 response is
// returned as an APIError and means the transaction is not yet indexed.
func (c *Client) Transaction(
	ctx context.Context,
	txId string,
) (*Transaction, error) {
	ret := &Transaction{}
	if err := c.get(
		ctx,
		"/txs/"+url.PathEscape(txId),
		ret,
	); err != nil {
		return nil, err
	}
	return ret, nil
}

// TransactionUtxos fetches the resolved input/output view of a
// confirmed transaction
func (c *Client) TransactionUtxos(
	ctx context.Context,
	txId string,
) (*TransactionUtxos, error) {
	ret := &TransactionUtxos{}
	if err := c.get(
		ctx,
		"/txs/"+url.PathEscape(txId)+"/utxos",
		ret,
	); err != nil {
		return nil, err
	}
	return ret, nil
}

// AddressUtxos fetches the unspent outputs at an address. The provider
// answers 404 for addresses it has never seen; that is reported as an
// empty set rather than an error.
func (c *Client) AddressUtxos(
	ctx context.Context,
	address string,
) ([]AddressUtxo, error) {
	var ret []AddressUtxo
	err := c.get(
		ctx,
		"/addresses/"+url.PathEscape(address)+"/utxos",
		&ret,
	)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return ret, nil
}

// LatestBlock fetches the chain tip block header
func (c *Client) LatestBlock(ctx context.Context) (*Block, error) {
	ret := &Block{}
	if err := c.get(ctx, "/blocks/latest", ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// ProtocolParameters fetches the current epoch's protocol parameters
func (c *Client) ProtocolParameters(
	ctx context.Context,
) (*ProtocolParameters, error) {
	ret := &ProtocolParameters{}
	if err := c.get(
		ctx,
		"/epochs/latest/parameters",
		ret,
	); err != nil {
		return nil, err
	}
	return ret, nil
}

// SubmitTransaction submits a signed transaction's CBOR to the
// provider and returns the transaction hash it reports
func (c *Client) SubmitTransaction(
	ctx context.Context,
	txCbor []byte,
) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.BaseURL+"/tx/submit",
		bytes.NewReader(txCbor),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/cbor")
	if c.config.ProjectID != "" {
		req.Header.Set("project_id", c.config.ProjectID)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit transaction: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp.StatusCode, body)
	}
	// The provider answers with the tx hash as a JSON string
	var txHash string
	if err := json.Unmarshal(body, &txHash); err != nil {
		return "", fmt.Errorf(
			"malformed submit response %q: %w",
			string(body),
			err,
		)
	}
	c.logger.Info(
		"submitted transaction",
		"tx_hash", txHash,
		"tx_size", len(txCbor),
	)
	return txHash, nil
}

func (c *Client) get(
	ctx context.Context,
	path string,
	out any,
) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.config.BaseURL+path,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.ProjectID != "" {
		req.Header.Set("project_id", c.config.ProjectID)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{}
	if err := json.Unmarshal(body, apiErr); err != nil ||
		apiErr.StatusCode == 0 {
		apiErr = &APIError{
			StatusCode: statusCode,
			Error_:     http.StatusText(statusCode),
			Message:    string(body),
		}
	}
	return apiErr
}

// DecodeInlineDatum decodes a provider-reported hex inline datum into
// raw CBOR bytes
func DecodeInlineDatum(inlineDatum string) ([]byte, error) {
	if inlineDatum == "" {
		return nil, nil
	}
	ret, err := hex.DecodeString(inlineDatum)
	if err != nil {
		return nil, fmt.Errorf("malformed inline datum hex: %w", err)
	}
	return ret, nil
}
