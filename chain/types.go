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

package chain

import (
	"errors"
	"fmt"
	"strconv"
)

// APIError represents an error response from the REST provider
type APIError struct {
	StatusCode int    `json:"status_code"`
	Error_     string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf(
		"chain provider error: status %d (%s): %s",
		e.StatusCode,
		e.Error_,
		e.Message,
	)
}

// IsNotFound reports whether err is a provider response with HTTP 404,
// meaning the requested entity is not (yet) known to the chain indexer
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}

// Amount is a single asset quantity within a transaction output. Unit
// is "lovelace" for ADA, otherwise policy id + hex asset name.
type Amount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

// Lovelace returns the ADA quantity in lovelace from a list of asset
// amounts, zero if absent
func Lovelace(amounts []Amount) (uint64, error) {
	for _, amount := range amounts {
		if amount.Unit != "lovelace" {
			continue
		}
		qty, err := strconv.ParseUint(amount.Quantity, 10, 64)
		if err != nil {
			return 0, fmt.Errorf(
				"malformed lovelace quantity %q: %w",
				amount.Quantity,
				err,
			)
		}
		return qty, nil
	}
	return 0, nil
}

// Transaction is the provider's view of a confirmed transaction
type Transaction struct {
	Hash          string `json:"hash"`
	Block         string `json:"block"`
	BlockHeight   uint64 `json:"block_height"`
	BlockTime     uint64 `json:"block_time"`
	Slot          uint64 `json:"slot"`
	Index         uint64 `json:"index"`
	Fees          string `json:"fees"`
	Deposit       string `json:"deposit"`
	Size          uint64 `json:"size"`
	ValidContract bool   `json:"valid_contract"`
}

// TxOutput is a single output within a transaction's UTxO view
type TxOutput struct {
	Address             string   `json:"address"`
	Amount              []Amount `json:"amount"`
	OutputIndex         uint32   `json:"output_index"`
	DataHash            string   `json:"data_hash"`
	InlineDatum         string   `json:"inline_datum"`
	ReferenceScriptHash string   `json:"reference_script_hash"`
}

// TxInput is a single input within a transaction's UTxO view
type TxInput struct {
	Address     string   `json:"address"`
	Amount      []Amount `json:"amount"`
	TxHash      string   `json:"tx_hash"`
	OutputIndex uint32   `json:"output_index"`
	Collateral  bool     `json:"collateral"`
	Reference   bool     `json:"reference"`
}

// TransactionUtxos is the resolved input/output view of a transaction
type TransactionUtxos struct {
	Hash    string     `json:"hash"`
	Inputs  []TxInput  `json:"inputs"`
	Outputs []TxOutput `json:"outputs"`
}

// AddressUtxo is a single unspent output at an address
type AddressUtxo struct {
	Address     string   `json:"address"`
	TxHash      string   `json:"tx_hash"`
	OutputIndex uint32   `json:"output_index"`
	Amount      []Amount `json:"amount"`
	Block       string   `json:"block"`
	DataHash    string   `json:"data_hash"`
	InlineDatum string   `json:"inline_datum"`
}

// Block is the provider's view of a block header
type Block struct {
	Time   uint64 `json:"time"`
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
	Slot   uint64 `json:"slot"`
	Epoch  uint64 `json:"epoch"`
}

// ProtocolParameters carries the subset of protocol parameters needed
// for fee estimation and script execution budgets
type ProtocolParameters struct {
	Epoch            uint64             `json:"epoch"`
	MinFeeA          uint64             `json:"min_fee_a"`
	MinFeeB          uint64             `json:"min_fee_b"`
	MaxTxSize        uint64             `json:"max_tx_size"`
	PriceMem         float64            `json:"price_mem"`
	PriceStep        float64            `json:"price_step"`
	CoinsPerUtxoSize string             `json:"coins_per_utxo_size"`
	CostModelsRaw    map[string][]int64 `json:"cost_models_raw"`
}
