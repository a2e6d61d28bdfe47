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
	"encoding/hex"
	"strconv"
	"strings"
	"sync"

	"github.com/blinklabs-io/paddock/chain"
	"github.com/blinklabs-io/paddock/database"
	"github.com/blinklabs-io/paddock/datum"
	"github.com/blinklabs-io/paddock/event"
	"github.com/blinklabs-io/paddock/wallet"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
)

const (
	// LovelacePerAda is the lovelace in one ADA
	LovelacePerAda = 1_000_000
	// MinWithdrawalLovelace is the smallest withdrawal built (0.5 ADA)
	MinWithdrawalLovelace = 500_000
)

// WithdrawRequest asks for a withdrawal from a wallet's vault balance.
// A non-positive amount withdraws the full balance.
type WithdrawRequest struct {
	VaultID       string
	WalletAddress string
	AmountAda     float64
}

// WithdrawResult reports the outcome of a withdrawal attempt. Failures
// are values, not errors: the reason is always populated when Ok is
// false.
type WithdrawResult struct {
	Ok     bool
	TxHash string
	Amount uint64 // lovelace actually withdrawn
	Reason string
}

// lovelaceFromAda converts a requested ADA amount to lovelace using
// decimal string arithmetic. Multiplying the float directly loses a
// lovelace on amounts like 58.29 (58289999.99... truncates to
// 58289999).
func lovelaceFromAda(ada float64) uint64 {
	intPart, fracPart, _ := strings.Cut(
		strconv.FormatFloat(ada, 'f', -1, 64),
		".",
	)
	// Truncate beyond lovelace precision, pad short fractions
	if len(fracPart) > 6 {
		fracPart = fracPart[:6]
	}
	for len(fracPart) < 6 {
		fracPart += "0"
	}
	whole, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		return 0
	}
	frac, err := strconv.ParseUint(fracPart, 10, 64)
	if err != nil {
		return 0
	}
	return whole*LovelacePerAda + frac
}

// keyedMutex serializes work per string key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until the key is free and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Withdraw builds, signs, and submits a withdrawal transaction paying
// the wallet from the vault's script UTxO. Concurrent withdrawals for
// the same (vault, wallet) pair are serialized so the balance check
// and the debit are atomic with respect to each other.
func (s *Service) Withdraw(
	ctx context.Context,
	req WithdrawRequest,
) WithdrawResult {
	vaultId := strings.ToLower(strings.TrimSpace(req.VaultID))
	walletAddr := strings.ToLower(strings.TrimSpace(req.WalletAddress))
	if vaultId == "" || walletAddr == "" {
		return s.withdrawFailed(
			vaultId,
			walletAddr,
			"missing vault id or wallet address",
		)
	}
	unlock := s.withdrawLocks.Lock(vaultId + "|" + walletAddr)
	defer unlock()

	dep, err := s.config.Database.VaultDeploymentInfo(vaultId)
	if err != nil {
		return s.withdrawFailed(vaultId, walletAddr, err.Error())
	}
	if dep.ManagerKeyHash == "" {
		return s.withdrawFailed(
			vaultId,
			walletAddr,
			"vault has no manager key",
		)
	}
	earning, err := s.config.Database.UserEarning(vaultId, walletAddr)
	if err != nil {
		return s.withdrawFailed(vaultId, walletAddr, err.Error())
	}
	if earning.TotalDeposit == 0 {
		return s.withdrawFailed(vaultId, walletAddr, "no earnings")
	}
	withdrawable := earning.Withdrawable()
	if withdrawable == 0 {
		return s.withdrawFailed(
			vaultId,
			walletAddr,
			"withdrawals already match deposits",
		)
	}
	amount := withdrawable
	if req.AmountAda > 0 {
		amount = lovelaceFromAda(req.AmountAda)
	}
	if amount > withdrawable {
		s.logger.Info(
			"withdrawal request capped at balance",
			"vault_id", vaultId,
			"wallet", walletAddr,
			"requested", amount,
			"withdrawable", withdrawable,
		)
		amount = withdrawable
	}
	if amount < MinWithdrawalLovelace {
		return s.withdrawFailed(
			vaultId,
			walletAddr,
			"withdrawal below 0.5 ADA minimum",
		)
	}

	manager, err := s.config.Wallets.Resolve(dep.ManagerKeyHash)
	if err != nil {
		return s.withdrawFailed(vaultId, walletAddr, err.Error())
	}
	params, reason := s.gatherTxParams(
		ctx,
		dep,
		manager,
		walletAddr,
		amount,
	)
	if reason != "" {
		return s.withdrawFailed(vaultId, walletAddr, reason)
	}
	txCbor, txHash, err := buildWithdrawalTx(*params)
	if err != nil {
		return s.withdrawFailed(vaultId, walletAddr, err.Error())
	}
	if _, err := s.config.Chain.SubmitTransaction(
		ctx,
		txCbor,
	); err != nil {
		return s.withdrawFailed(vaultId, walletAddr, err.Error())
	}
	if err := s.config.Database.RecordWithdrawal(
		vaultId,
		walletAddr,
		amount,
		txHash,
		false,
	); err != nil {
		// The transaction is already on its way; log loudly rather
		// than misreport the submission
		s.logger.Error(
			"withdrawal submitted but not recorded",
			"vault_id", vaultId,
			"wallet", walletAddr,
			"tx_hash", txHash,
			"error", err,
		)
	}
	// The continuing vault UTxO is always output 0
	if err := s.config.Database.UpdateConfigUtxo(
		vaultId,
		txHash,
		0,
	); err != nil {
		s.logger.Error(
			"failed to move tracked vault UTxO",
			"vault_id", vaultId,
			"tx_hash", txHash,
			"error", err,
		)
	}
	s.metrics.withdrawalsSubmitted.Inc()
	s.config.EventBus.Publish(
		event.TypeWithdrawalSubmitted,
		event.NewEvent(
			event.TypeWithdrawalSubmitted,
			event.WithdrawalEvent{
				TxHash:  txHash,
				VaultID: vaultId,
				Wallet:  walletAddr,
				Amount:  amount,
			},
		),
	)
	s.logger.Info(
		"withdrawal submitted",
		"vault_id", vaultId,
		"wallet", walletAddr,
		"amount", amount,
		"tx_hash", txHash,
	)
	return WithdrawResult{
		Ok:     true,
		TxHash: txHash,
		Amount: amount,
	}
}

// ConfirmWithdrawal marks a previously submitted withdrawal completed
// once the transaction is visible on chain
func (s *Service) ConfirmWithdrawal(
	ctx context.Context,
	txHash string,
	vaultId string,
) (bool, error) {
	if _, err := s.config.Chain.Transaction(ctx, txHash); err != nil {
		if chain.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := s.config.Database.CompleteWithdrawal(
		txHash,
		vaultId,
	); err != nil {
		return false, err
	}
	return true, nil
}

// gatherTxParams collects the on-chain state needed to build the
// withdrawal. Failures come back as reason strings.
func (s *Service) gatherTxParams(
	ctx context.Context,
	dep *database.Deployment,
	manager *wallet.Wallet,
	walletAddr string,
	amount uint64,
) (*withdrawalTxParams, string) {
	scriptUtxos, err := s.config.Chain.AddressUtxos(
		ctx,
		dep.ScriptAddress,
	)
	if err != nil {
		return nil, err.Error()
	}
	var vaultUtxo *chain.AddressUtxo
	for i := range scriptUtxos {
		if scriptUtxos[i].TxHash == dep.ConfigTxHash &&
			scriptUtxos[i].OutputIndex == dep.ConfigOutputIndex {
			vaultUtxo = &scriptUtxos[i]
			break
		}
	}
	if vaultUtxo == nil {
		return nil, "vault UTxO not found on chain"
	}
	datumCbor, err := chain.DecodeInlineDatum(vaultUtxo.InlineDatum)
	if err != nil || len(datumCbor) == 0 {
		return nil, "vault UTxO has no usable inline datum"
	}
	vaultDatum, err := datum.DecodeVaultDatum(datumCbor)
	if err != nil {
		return nil, err.Error()
	}
	if hex.EncodeToString(vaultDatum.Manager) != dep.ManagerKeyHash {
		s.logger.Warn(
			"on-chain manager differs from deployment record",
			"vault_id", dep.VaultID,
			"datum_manager", hex.EncodeToString(vaultDatum.Manager),
			"deployment_manager", dep.ManagerKeyHash,
		)
	}
	vaultValue, err := chain.Lovelace(vaultUtxo.Amount)
	if err != nil {
		return nil, err.Error()
	}
	vaultInput, err := newTxInput(
		vaultUtxo.TxHash,
		vaultUtxo.OutputIndex,
	)
	if err != nil {
		return nil, err.Error()
	}
	scriptCbor, err := hex.DecodeString(dep.ScriptHex)
	if err != nil || len(scriptCbor) == 0 {
		return nil, "vault deployment has no usable script"
	}
	scriptAddress, err := lcommon.NewAddress(dep.ScriptAddress)
	if err != nil {
		return nil, err.Error()
	}
	recipient, err := lcommon.NewAddress(walletAddr)
	if err != nil {
		return nil, "malformed wallet address"
	}
	managerAddress, err := lcommon.NewAddressFromParts(
		lcommon.AddressTypeKeyNone,
		NetworkId(dep.Network),
		manager.KeyHash,
		nil,
	)
	if err != nil {
		return nil, err.Error()
	}
	managerUtxos, err := s.config.Chain.AddressUtxos(
		ctx,
		managerAddress.String(),
	)
	if err != nil {
		return nil, err.Error()
	}
	fundingUtxo, fundingValue, err := selectFundingUtxo(
		managerUtxos,
		placeholderFee+minManagerChange,
	)
	if err != nil {
		return nil, err.Error()
	}
	managerInput, err := newTxInput(
		fundingUtxo.TxHash,
		fundingUtxo.OutputIndex,
	)
	if err != nil {
		return nil, err.Error()
	}
	tip, err := s.config.Chain.LatestBlock(ctx)
	if err != nil {
		return nil, err.Error()
	}
	pparams, err := s.config.Chain.ProtocolParameters(ctx)
	if err != nil {
		return nil, err.Error()
	}
	return &withdrawalTxParams{
		scriptAddress:  scriptAddress,
		vaultInput:     vaultInput,
		vaultValue:     vaultValue,
		vaultDatumCbor: datumCbor,
		scriptCbor:     scriptCbor,
		recipient:      recipient,
		amount:         amount,
		manager:        manager,
		managerAddress: managerAddress,
		managerInput:   managerInput,
		managerValue:   fundingValue,
		currentSlot:    tip.Slot,
		pparams:        pparams,
	}, ""
}

func (s *Service) withdrawFailed(
	vaultId string,
	walletAddr string,
	reason string,
) WithdrawResult {
	s.logger.Info(
		"withdrawal rejected",
		"vault_id", vaultId,
		"wallet", walletAddr,
		"reason", reason,
	)
	return WithdrawResult{Reason: reason}
}
