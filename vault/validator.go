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
	"context"
	"log/slog"
	"strings"

	"github.com/blinklabs-io/paddock/chain"
	"github.com/blinklabs-io/paddock/database"
	"github.com/blinklabs-io/paddock/datum"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
)

// MinDepositLovelace is the smallest deposit the vault credits (1 ADA)
const MinDepositLovelace = 1_000_000

// NetworkId maps a network name to its address network id
func NetworkId(network string) uint8 {
	if strings.EqualFold(network, "mainnet") {
		return lcommon.AddressNetworkMainnet
	}
	return lcommon.AddressNetworkTestnet
}

// Validator checks a submitted deposit claim against on-chain data and
// produces the facts recorded in the ledger
type Validator struct {
	chainClient    chain.Reader
	db             *database.Database
	logger         *slog.Logger
	strictIdentity bool
}

// Validate resolves the claim's vault deployment and inspects the
// claimed transaction on chain. It returns a RetryableError when the
// chain indexer may simply be behind, and a ValidationError when the
// claim can never become valid.
func (v *Validator) Validate(
	ctx context.Context,
	req DepositRequest,
) (database.DepositFacts, error) {
	var facts database.DepositFacts
	dep, err := v.db.VaultDeploymentInfo(req.VaultID)
	if err != nil {
		return facts, invalid("unknown vault: %v", err)
	}
	if dep.ScriptAddress == "" {
		return facts, invalid(
			"vault %s has no configured script address",
			req.VaultID,
		)
	}
	// Only indexer lag is worth retrying. Any other provider failure
	// (auth, rate limit, malformed request) will not resolve within the
	// retry window and fails with its specific reason.
	tx, err := v.chainClient.Transaction(ctx, req.TxID)
	if err != nil {
		if chain.IsNotFound(err) {
			return facts, retryable(
				"transaction not yet visible on chain",
				err,
			)
		}
		return facts, invalid("chain provider error: %v", err)
	}
	utxos, err := v.chainClient.TransactionUtxos(ctx, req.TxID)
	if err != nil {
		if chain.IsNotFound(err) {
			return facts, retryable(
				"transaction UTxOs not yet visible on chain",
				err,
			)
		}
		return facts, invalid("chain provider error: %v", err)
	}
	// The deposit is the first output paying the vault script address.
	// The provider may index the transaction before the address view
	// catches up, so a missing output is retried rather than failed.
	var output *chain.TxOutput
	for i := range utxos.Outputs {
		if utxos.Outputs[i].Address == dep.ScriptAddress {
			output = &utxos.Outputs[i]
			break
		}
	}
	if output == nil {
		return facts, retryable(
			"no output at vault script address",
			nil,
		)
	}
	lovelace, err := chain.Lovelace(output.Amount)
	if err != nil {
		return facts, invalid("malformed output value: %v", err)
	}
	if lovelace < MinDepositLovelace {
		return facts, invalid(
			"deposit of %d lovelace below 1 ADA minimum",
			lovelace,
		)
	}
	if output.InlineDatum == "" {
		return facts, invalid("deposit output has no inline datum")
	}
	datumBytes, err := chain.DecodeInlineDatum(output.InlineDatum)
	if err != nil {
		return facts, invalid("bad inline datum: %v", err)
	}
	depositDatum, err := datum.DecodeDepositDatum(datumBytes)
	if err != nil {
		return facts, invalid("bad deposit datum: %v", err)
	}
	contributorAddr, err := depositDatum.ContributorAddress(
		NetworkId(dep.Network),
	)
	if err != nil {
		return facts, invalid("bad contributor identity: %v", err)
	}
	contributor := contributorAddr.String()
	// The datum identity is authoritative for crediting. A mismatched
	// claim is overridden unless strict identity checking is enabled.
	if req.WalletAddress != "" && req.WalletAddress != contributor {
		if v.strictIdentity {
			return facts, invalid(
				"claimed wallet does not match deposit datum",
			)
		}
		v.logger.Warn(
			"claimed wallet does not match deposit datum, crediting datum identity",
			"tx_id", req.TxID,
			"claimed", req.WalletAddress,
			"contributor", contributor,
		)
	}
	if string(depositDatum.PoolName) != dep.PoolName {
		return facts, invalid(
			"pool_name mismatch: datum %q, vault %q",
			string(depositDatum.PoolName),
			dep.PoolName,
		)
	}
	return database.DepositFacts{
		Amount:      lovelace,
		Asset:       "lovelace",
		BlockTime:   tx.BlockTime,
		Fee:         tx.Fees,
		Contributor: contributor,
		PoolName:    dep.PoolName,
	}, nil
}
