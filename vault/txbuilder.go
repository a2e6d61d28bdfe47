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
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/blinklabs-io/paddock/chain"
	"github.com/blinklabs-io/paddock/datum"
	"github.com/blinklabs-io/paddock/wallet"

	"github.com/blinklabs-io/gouroboros/cbor"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"golang.org/x/crypto/blake2b"
)

// Script execution budget for the vault's withdraw branch. Generous
// fixed values; actual usage is well below the network limits.
const (
	scriptExMemory = 3_000_000
	scriptExSteps  = 1_400_000_000
)

const (
	// placeholderFee sizes the draft transaction before the real fee
	// is known
	placeholderFee = 2_000_000
	// minManagerChange keeps the manager change output above the
	// ledger's min-UTxO requirement
	minManagerChange = 1_000_000
)

var (
	ErrInsufficientVaultValue = errors.New(
		"vault UTxO too small for requested amount",
	)
	ErrNoFundingUtxo = errors.New(
		"no manager UTxO large enough to cover the fee",
	)
)

// txInput is one transaction input as (tx hash, output index)
type txInput struct {
	hashHex string
	hash    []byte
	index   uint64
}

func newTxInput(hashHex string, index uint32) (txInput, error) {
	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return txInput{}, fmt.Errorf("malformed tx hash: %w", err)
	}
	if len(hash) != 32 {
		return txInput{}, fmt.Errorf(
			"tx hash must be 32 bytes, got %d",
			len(hash),
		)
	}
	return txInput{
		hashHex: hashHex,
		hash:    hash,
		index:   uint64(index),
	}, nil
}

func (i txInput) encode() []any {
	return []any{i.hash, i.index}
}

// less orders inputs the way the ledger does, by hash then index.
// Redeemer indexes refer to positions in this ordering.
func (i txInput) less(other txInput) bool {
	if i.hashHex != other.hashHex {
		return i.hashHex < other.hashHex
	}
	return i.index < other.index
}

// withdrawalTxParams carries everything needed to build a withdrawal
// transaction spending the vault's script UTxO
type withdrawalTxParams struct {
	scriptAddress  lcommon.Address
	vaultInput     txInput
	vaultValue     uint64 // lovelace held by the vault UTxO
	vaultDatumCbor []byte // continuing datum, reproduced unchanged
	scriptCbor     []byte // compiled Plutus V3 script
	recipient      lcommon.Address
	amount         uint64 // lovelace paid to the recipient
	manager        *wallet.Wallet
	managerAddress lcommon.Address
	managerInput   txInput
	managerValue   uint64 // lovelace held by the manager funding UTxO
	currentSlot    uint64
	pparams        *chain.ProtocolParameters
}

// buildWithdrawalTx assembles, signs, and encodes a Conway-era
// withdrawal transaction. Output 0 is the continuing vault UTxO with
// the unchanged datum, output 1 pays the recipient, and output 2
// returns the manager's change. The manager is the sole signer and
// the manager's funding UTxO doubles as collateral.
func buildWithdrawalTx(
	p withdrawalTxParams,
) (txCbor []byte, txHash string, err error) {
	if p.vaultValue <= p.amount {
		return nil, "", fmt.Errorf(
			"%w: holds %d, requested %d",
			ErrInsufficientVaultValue,
			p.vaultValue,
			p.amount,
		)
	}
	remaining := p.vaultValue - p.amount

	// Inputs must be in ledger order for the redeemer index to land
	// on the script input
	inputs := []txInput{p.vaultInput, p.managerInput}
	if inputs[1].less(inputs[0]) {
		inputs[0], inputs[1] = inputs[1], inputs[0]
	}
	vaultInputIdx := uint64(0)
	if inputs[1].hashHex == p.vaultInput.hashHex &&
		inputs[1].index == p.vaultInput.index {
		vaultInputIdx = 1
	}

	redeemerCbor, err := datum.NewWithdrawRedeemer().Encode()
	if err != nil {
		return nil, "", fmt.Errorf("encode redeemer: %w", err)
	}
	// Conway redeemers map: {[tag, index]: [data, ex_units]} with
	// spend tag 0
	redeemers := map[[2]uint64]any{
		{0, vaultInputIdx}: []any{
			cbor.RawMessage(redeemerCbor),
			[]any{uint64(scriptExMemory), uint64(scriptExSteps)},
		},
	}
	scriptDataHash, err := computeScriptDataHash(redeemers, p.pparams)
	if err != nil {
		return nil, "", err
	}

	buildBody := func(fee uint64) (map[uint]any, error) {
		if p.managerValue < fee+minManagerChange {
			return nil, fmt.Errorf(
				"%w: holds %d, need %d",
				ErrNoFundingUtxo,
				p.managerValue,
				fee+minManagerChange,
			)
		}
		outputs := []any{
			// Continuing vault output with inline datum
			map[uint]any{
				0: p.scriptAddress,
				1: remaining,
				2: []any{
					uint64(1),
					cbor.Tag{
						Number:  24,
						Content: p.vaultDatumCbor,
					},
				},
			},
			[]any{p.recipient, p.amount},
			[]any{p.managerAddress, p.managerValue - fee},
		}
		return map[uint]any{
			0: cbor.Tag{
				Number: 258,
				Content: []any{
					inputs[0].encode(),
					inputs[1].encode(),
				},
			},
			1:  outputs,
			2:  fee,
			8:  p.currentSlot,
			11: scriptDataHash,
			13: cbor.Tag{
				Number:  258,
				Content: []any{p.managerInput.encode()},
			},
			14: cbor.Tag{
				Number:  258,
				Content: []any{p.manager.KeyHash},
			},
		}, nil
	}

	// Size a draft with a placeholder fee and dummy signature, then
	// rebuild with the estimated fee. The placeholder is larger than
	// any real fee, so the final encoding never grows.
	draftBody, err := buildBody(placeholderFee)
	if err != nil {
		return nil, "", err
	}
	draftBodyCbor, err := cbor.Encode(draftBody)
	if err != nil {
		return nil, "", fmt.Errorf("encode draft body: %w", err)
	}
	draftWitnesses := witnessSet(
		p.manager.PublicKey,
		make([]byte, 64),
		redeemers,
		p.scriptCbor,
	)
	draftTx := []any{
		cbor.RawMessage(draftBodyCbor),
		draftWitnesses,
		true,
		nil,
	}
	draftCbor, err := cbor.Encode(draftTx)
	if err != nil {
		return nil, "", fmt.Errorf("encode draft tx: %w", err)
	}
	fee := estimateFee(len(draftCbor), p.pparams)

	body, err := buildBody(fee)
	if err != nil {
		return nil, "", err
	}
	bodyCbor, err := cbor.Encode(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	bodyHash := blake2b.Sum256(bodyCbor)
	signature := p.manager.Sign(bodyHash[:])
	witnesses := witnessSet(
		p.manager.PublicKey,
		signature,
		redeemers,
		p.scriptCbor,
	)
	signedTx := []any{
		cbor.RawMessage(bodyCbor),
		witnesses,
		true,
		nil,
	}
	signedCbor, err := cbor.Encode(signedTx)
	if err != nil {
		return nil, "", fmt.Errorf("encode signed tx: %w", err)
	}
	return signedCbor, hex.EncodeToString(bodyHash[:]), nil
}

func witnessSet(
	vkey []byte,
	signature []byte,
	redeemers map[[2]uint64]any,
	scriptCbor []byte,
) map[uint]any {
	return map[uint]any{
		0: []lcommon.VkeyWitness{
			{
				Vkey:      vkey,
				Signature: signature,
			},
		},
		5: redeemers,
		7: [][]byte{scriptCbor},
	}
}

// computeScriptDataHash hashes the redeemers and language views the
// way the ledger does when all datums are inline
func computeScriptDataHash(
	redeemers map[[2]uint64]any,
	pparams *chain.ProtocolParameters,
) ([]byte, error) {
	redeemersCbor, err := cbor.Encode(redeemers)
	if err != nil {
		return nil, fmt.Errorf("encode redeemers: %w", err)
	}
	// Language views: {2: cost_model} for Plutus V3
	costModel := pparams.CostModelsRaw["PlutusV3"]
	if costModel == nil {
		costModel = []int64{}
	}
	langViewsCbor, err := cbor.Encode(map[uint]any{2: costModel})
	if err != nil {
		return nil, fmt.Errorf("encode language views: %w", err)
	}
	hashInput := make(
		[]byte, 0,
		len(redeemersCbor)+len(langViewsCbor),
	)
	hashInput = append(hashInput, redeemersCbor...)
	hashInput = append(hashInput, langViewsCbor...)
	hash := blake2b.Sum256(hashInput)
	return hash[:], nil
}

// estimateFee computes the linear fee for a transaction of the given
// size plus the cost of the script execution budget
func estimateFee(txSize int, pparams *chain.ProtocolParameters) uint64 {
	linear := pparams.MinFeeA*uint64(txSize) + pparams.MinFeeB // #nosec G115
	scriptFee := uint64(math.Ceil(
		float64(scriptExMemory)*pparams.PriceMem +
			float64(scriptExSteps)*pparams.PriceStep,
	))
	return linear + scriptFee
}

// selectFundingUtxo picks a plain ADA-only UTxO holding at least
// minValue lovelace. UTxOs carrying datums or native assets are
// skipped so nothing is burned or locked by accident.
func selectFundingUtxo(
	utxos []chain.AddressUtxo,
	minValue uint64,
) (*chain.AddressUtxo, uint64, error) {
	for i := range utxos {
		utxo := &utxos[i]
		if utxo.InlineDatum != "" || utxo.DataHash != "" {
			continue
		}
		if len(utxo.Amount) != 1 {
			continue
		}
		lovelace, err := chain.Lovelace(utxo.Amount)
		if err != nil || lovelace < minValue {
			continue
		}
		return utxo, lovelace, nil
	}
	return nil, 0, ErrNoFundingUtxo
}
