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
	"bytes"
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/blinklabs-io/paddock/chain"
	"github.com/blinklabs-io/paddock/database"
	"github.com/blinklabs-io/paddock/datum"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScriptHex = "4e4d01000033222220051200120011"

// seedEarning records a completed deposit and optional prior
// withdrawal for the wallet
func seedEarning(
	t *testing.T,
	env *testEnv,
	walletAddr string,
	depositAda uint64,
	withdrawnAda uint64,
) {
	t.Helper()
	_, err := env.db.EnsurePendingDeposit(
		"seed-deposit",
		walletAddr,
		"vault-1",
	)
	require.NoError(t, err)
	require.NoError(t, env.db.FinalizeDeposit(
		"seed-deposit",
		"vault-1",
		database.DepositFacts{
			Amount:      depositAda * LovelacePerAda,
			Asset:       "lovelace",
			Contributor: walletAddr,
		},
	))
	if withdrawnAda > 0 {
		require.NoError(t, env.db.RecordWithdrawal(
			"vault-1",
			walletAddr,
			withdrawnAda*LovelacePerAda,
			"seed-withdrawal",
			false,
		))
	}
}

// seedVaultOnChain places the tracked vault UTxO and a manager funding
// UTxO on the fake chain, returning the vault datum bytes
func seedVaultOnChain(
	t *testing.T,
	env *testEnv,
	vaultLovelace uint64,
) []byte {
	t.Helper()
	vaultDatum := &datum.VaultDatum{
		State:            datum.VaultStateWithdrawable,
		Manager:          testManagerKeyHash(),
		AssetPolicy:      bytes.Repeat([]byte{0xb2}, 28),
		AssetName:        []byte("SNEK"),
		MaxUsers:         100,
		TradingTime:      1_755_000_000_000,
		WithdrawableTime: 1_756_000_000_000,
		TotalCapital:     vaultLovelace,
		PostMoneyValue:   0,
	}
	datumCbor, err := vaultDatum.Encode()
	require.NoError(t, err)

	dep, err := env.db.VaultDeploymentInfo("vault-1")
	require.NoError(t, err)

	managerAddr, err := lcommon.NewAddressFromParts(
		lcommon.AddressTypeKeyNone,
		lcommon.AddressNetworkMainnet,
		testManagerKeyHash(),
		nil,
	)
	require.NoError(t, err)

	env.chain.mu.Lock()
	defer env.chain.mu.Unlock()
	env.chain.addrUtxos[dep.ScriptAddress] = []chain.AddressUtxo{
		{
			Address:     dep.ScriptAddress,
			TxHash:      dep.ConfigTxHash,
			OutputIndex: dep.ConfigOutputIndex,
			Amount: []chain.Amount{
				{
					Unit: "lovelace",
					Quantity: strconv.FormatUint(
						vaultLovelace, 10,
					),
				},
			},
			InlineDatum: hex.EncodeToString(datumCbor),
		},
	}
	env.chain.addrUtxos[managerAddr.String()] = []chain.AddressUtxo{
		{
			Address:     managerAddr.String(),
			TxHash:      hexPad("bb", 32),
			OutputIndex: 1,
			Amount: []chain.Amount{
				{Unit: "lovelace", Quantity: "10000000"},
			},
		},
	}
	return datumCbor
}

func TestWithdrawEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)
	contributor := testContributorAddress(t)
	seedEarning(t, env, contributor, 100, 40)
	datumCbor := seedVaultOnChain(t, env, 200*LovelacePerAda)

	// 80 ADA requested against a 60 ADA balance: capped
	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "vault-1",
		WalletAddress: contributor,
		AmountAda:     80,
	})
	require.True(t, result.Ok, "withdraw failed: %s", result.Reason)
	assert.Equal(t, uint64(60*LovelacePerAda), result.Amount)
	assert.Len(t, result.TxHash, 64)

	// Submitted tx carries the continuing datum and script verbatim
	env.chain.mu.Lock()
	require.Len(t, env.chain.submitted, 1)
	txCbor := env.chain.submitted[0]
	env.chain.mu.Unlock()
	assert.True(
		t,
		bytes.Contains(txCbor, datumCbor),
		"continuing datum not reproduced in transaction",
	)
	scriptCbor, err := hex.DecodeString(testScriptHex)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(txCbor, scriptCbor))

	// Ledger debited and the tracked UTxO moved to output 0
	earning, err := env.db.UserEarning("vault-1", contributor)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*LovelacePerAda), earning.TotalDeposit)
	assert.Equal(t, uint64(100*LovelacePerAda), earning.TotalWithdrawal)

	dep, err := env.db.VaultDeploymentInfo("vault-1")
	require.NoError(t, err)
	assert.Equal(t, result.TxHash, dep.ConfigTxHash)
	assert.Equal(t, uint32(0), dep.ConfigOutputIndex)

	entry, err := env.db.LedgerEntry(result.TxHash, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, database.ActionWithdrawal, entry.ActionType)
	assert.Equal(t, database.StatusPending, entry.Status)
}

func TestWithdrawBalanceExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)
	contributor := testContributorAddress(t)
	seedEarning(t, env, contributor, 100, 100)

	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "vault-1",
		WalletAddress: contributor,
		AmountAda:     10,
	})
	assert.False(t, result.Ok)
	assert.Equal(t, "withdrawals already match deposits", result.Reason)
}

func TestWithdrawNoEarnings(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)

	// Wallet has no deposit history at all
	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "vault-1",
		WalletAddress: testContributorAddress(t),
		AmountAda:     10,
	})
	assert.False(t, result.Ok)
	assert.Equal(t, "no earnings", result.Reason)
}

func TestWithdrawBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)
	contributor := testContributorAddress(t)
	seedEarning(t, env, contributor, 100, 0)

	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "vault-1",
		WalletAddress: contributor,
		AmountAda:     0.4,
	})
	assert.False(t, result.Ok)
	assert.Contains(t, result.Reason, "0.5 ADA minimum")
}

func TestWithdrawFullBalanceWhenNoAmountGiven(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)
	contributor := testContributorAddress(t)
	seedEarning(t, env, contributor, 100, 40)
	seedVaultOnChain(t, env, 200*LovelacePerAda)

	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "vault-1",
		WalletAddress: contributor,
	})
	require.True(t, result.Ok, "withdraw failed: %s", result.Reason)
	assert.Equal(t, uint64(60*LovelacePerAda), result.Amount)
}

func TestWithdrawNormalizesIdentifiers(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)
	contributor := testContributorAddress(t)
	seedEarning(t, env, contributor, 100, 0)
	seedVaultOnChain(t, env, 200*LovelacePerAda)

	// Padded and upper-cased identifiers must still find the ledger
	// rows recorded under the canonical lowercase form
	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "  VAULT-1  ",
		WalletAddress: " " + strings.ToUpper(contributor) + " ",
		AmountAda:     1,
	})
	require.True(t, result.Ok, "withdraw failed: %s", result.Reason)
	assert.Equal(t, uint64(1*LovelacePerAda), result.Amount)
}

func TestLovelaceFromAda(t *testing.T) {
	// 58.29 is not exactly representable in binary floating point;
	// naive multiplication truncates to 58289999
	assert.Equal(t, uint64(58_290_000), lovelaceFromAda(58.29))
	assert.Equal(t, uint64(1_000_000), lovelaceFromAda(1))
	assert.Equal(t, uint64(999_999), lovelaceFromAda(0.999999))
	assert.Equal(t, uint64(500_000), lovelaceFromAda(0.5))
	// Sub-lovelace precision is truncated
	assert.Equal(t, uint64(1_000_000), lovelaceFromAda(1.0000004))
}

func TestWithdrawUnknownVault(t *testing.T) {
	env := newTestEnv(t)
	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "missing",
		WalletAddress: "addr1user",
		AmountAda:     1,
	})
	assert.False(t, result.Ok)
	assert.Contains(t, result.Reason, "vault not found")
}

func TestWithdrawVaultUtxoMissingOnChain(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)
	contributor := testContributorAddress(t)
	seedEarning(t, env, contributor, 100, 0)
	// No UTxOs seeded at the script address

	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "vault-1",
		WalletAddress: contributor,
		AmountAda:     1,
	})
	assert.False(t, result.Ok)
	assert.Equal(t, "vault UTxO not found on chain", result.Reason)
}

func TestWithdrawSubmitFailureReportedAsValue(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)
	contributor := testContributorAddress(t)
	seedEarning(t, env, contributor, 100, 0)
	seedVaultOnChain(t, env, 200*LovelacePerAda)
	env.chain.mu.Lock()
	env.chain.submitErr = &chain.APIError{
		StatusCode: 400,
		Error_:     "Bad Request",
		Message:    "transaction submit error",
	}
	env.chain.mu.Unlock()

	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "vault-1",
		WalletAddress: contributor,
		AmountAda:     1,
	})
	assert.False(t, result.Ok)
	assert.Contains(t, result.Reason, "transaction submit error")

	// Nothing debited on failure
	earning, err := env.db.UserEarning("vault-1", contributor)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), earning.TotalWithdrawal)
}

func TestConfirmWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	env.seedVault(t, testScriptHex)
	contributor := testContributorAddress(t)
	seedEarning(t, env, contributor, 100, 0)
	seedVaultOnChain(t, env, 200*LovelacePerAda)

	result := env.service.Withdraw(context.Background(), WithdrawRequest{
		VaultID:       "vault-1",
		WalletAddress: contributor,
		AmountAda:     1,
	})
	require.True(t, result.Ok, "withdraw failed: %s", result.Reason)

	// Not on chain yet
	confirmed, err := env.service.ConfirmWithdrawal(
		context.Background(),
		result.TxHash,
		"vault-1",
	)
	require.NoError(t, err)
	assert.False(t, confirmed)

	env.chain.mu.Lock()
	env.chain.txs[result.TxHash] = &chain.Transaction{
		Hash: result.TxHash,
	}
	env.chain.mu.Unlock()

	confirmed, err = env.service.ConfirmWithdrawal(
		context.Background(),
		result.TxHash,
		"vault-1",
	)
	require.NoError(t, err)
	assert.True(t, confirmed)
	entry, err := env.db.LedgerEntry(result.TxHash, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, entry.Status)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km keyedMutex
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("vault-1|addr1user")
			defer unlock()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	var km keyedMutex
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done // key "b" must not wait on key "a"
	unlockA()
}
