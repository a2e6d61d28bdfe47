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

package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrVaultNotFound   = errors.New("vault not found")
	ErrNoConfigUtxo    = errors.New("vault has no tracked config UTxO")
	ErrMalformedPoolId = errors.New("malformed pool id")
)

// EnsureResult describes the outcome of an idempotent pending insert
type EnsureResult int

const (
	EnsureInserted EnsureResult = iota
	EnsureAlreadyCompleted
)

// DepositFacts carries the validated on-chain facts recorded when a
// deposit completes
type DepositFacts struct {
	Amount      uint64 // lovelace
	Asset       string
	BlockTime   uint64
	Fee         string
	Contributor string // bech32 address rebuilt from the datum
	PoolName    string
}

// Deployment is the joined vault + config UTxO view needed to validate
// deposits and build withdrawals
type Deployment struct {
	VaultID           string
	Name              string
	ScriptAddress     string
	ScriptHex         string
	PoolPolicy        string
	PoolName          string
	ManagerKeyHash    string
	Network           string
	ConfigTxHash      string
	ConfigOutputIndex uint32
}

// RegisterDeployment records a deployed vault and its initial script
// UTxO. Used at deployment time and by tests to seed state.
func (d *Database) RegisterDeployment(
	vault *Vault,
	configTxHash string,
	configOutputIndex uint32,
) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if result := tx.Create(vault); result.Error != nil {
			return result.Error
		}
		cfg := &VaultConfigUtxo{
			VaultID:     vault.VaultID,
			TxHash:      configTxHash,
			OutputIndex: configOutputIndex,
		}
		if result := tx.Create(cfg); result.Error != nil {
			return result.Error
		}
		return nil
	})
}

// VaultDeploymentInfo resolves a vault id to its deployment record,
// splitting the pool id into policy and asset name
func (d *Database) VaultDeploymentInfo(
	vaultId string,
) (*Deployment, error) {
	var vault Vault
	result := d.db.First(&vault, "vault_id = ?", vaultId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultId)
		}
		return nil, result.Error
	}
	var cfg VaultConfigUtxo
	result = d.db.First(&cfg, "vault_id = ?", vaultId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoConfigUtxo, vaultId)
		}
		return nil, result.Error
	}
	policy, name, found := strings.Cut(vault.PoolID, ".")
	if !found || policy == "" || name == "" {
		return nil, fmt.Errorf(
			"%w: %q (want \"<policy>.<name>\")",
			ErrMalformedPoolId,
			vault.PoolID,
		)
	}
	return &Deployment{
		VaultID:           vault.VaultID,
		Name:              vault.Name,
		ScriptAddress:     vault.ScriptAddress,
		ScriptHex:         vault.ScriptHex,
		PoolPolicy:        policy,
		PoolName:          name,
		ManagerKeyHash:    vault.ManagerKeyHash,
		Network:           vault.Network,
		ConfigTxHash:      cfg.TxHash,
		ConfigOutputIndex: cfg.OutputIndex,
	}, nil
}

// UpdateConfigUtxo moves the tracked script UTxO forward after a
// transaction spends it
func (d *Database) UpdateConfigUtxo(
	vaultId string,
	txHash string,
	outputIndex uint32,
) error {
	result := d.db.Model(&VaultConfigUtxo{}).
		Where("vault_id = ?", vaultId).
		Updates(map[string]any{
			"tx_hash":      txHash,
			"output_index": outputIndex,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNoConfigUtxo, vaultId)
	}
	return nil
}

// EnsurePendingDeposit records a deposit claim as pending. The insert
// is idempotent: an existing pending row is left alone, a failed row is
// re-armed for another validation attempt, and a completed row reports
// EnsureAlreadyCompleted so callers can skip requeueing.
func (d *Database) EnsurePendingDeposit(
	txId string,
	walletAddress string,
	vaultId string,
) (EnsureResult, error) {
	ret := EnsureInserted
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var entry VaultLedgerEntry
		result := tx.First(
			&entry,
			"tx_id = ? AND vault_id = ?",
			txId,
			vaultId,
		)
		if result.Error != nil {
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return result.Error
			}
			entry = VaultLedgerEntry{
				TxID:          txId,
				VaultID:       vaultId,
				WalletAddress: walletAddress,
				ActionType:    ActionDeposit,
				Status:        StatusPending,
			}
			return tx.Create(&entry).Error
		}
		switch entry.Status {
		case StatusCompleted:
			ret = EnsureAlreadyCompleted
			return nil
		case StatusFailed:
			// Re-arm for another validation attempt
			return tx.Model(&entry).Updates(map[string]any{
				"status":         StatusPending,
				"failure_reason": "",
				"wallet_address": walletAddress,
			}).Error
		default:
			return nil
		}
	})
	if err != nil {
		return ret, err
	}
	return ret, nil
}

// FinalizeDeposit marks a pending deposit completed with its validated
// facts and credits the contributor's cumulative position. A missing
// row is a no-op, since only queued claims can complete.
func (d *Database) FinalizeDeposit(
	txId string,
	vaultId string,
	facts DepositFacts,
) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var entry VaultLedgerEntry
		result := tx.First(
			&entry,
			"tx_id = ? AND vault_id = ?",
			txId,
			vaultId,
		)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				d.logger.Warn(
					"finalize for unknown deposit",
					"tx_id", txId,
					"vault_id", vaultId,
				)
				return nil
			}
			return result.Error
		}
		if entry.Status == StatusCompleted {
			return nil
		}
		if err := tx.Model(&entry).Updates(map[string]any{
			"status":         StatusCompleted,
			"amount":         facts.Amount,
			"asset":          facts.Asset,
			"block_time":     facts.BlockTime,
			"fee":            facts.Fee,
			"wallet_address": facts.Contributor,
			"failure_reason": "",
		}).Error; err != nil {
			return err
		}
		return creditDeposit(tx, vaultId, facts.Contributor, facts.Amount)
	})
}

// MarkDepositFailed marks a pending deposit failed with a reason
func (d *Database) MarkDepositFailed(
	txId string,
	vaultId string,
	reason string,
) error {
	result := d.db.Model(&VaultLedgerEntry{}).
		Where("tx_id = ? AND vault_id = ?", txId, vaultId).
		Where("status <> ?", StatusCompleted).
		Updates(map[string]any{
			"status":         StatusFailed,
			"failure_reason": reason,
		})
	return result.Error
}

// UserEarning returns the cumulative position for a wallet within a
// vault. A wallet with no history gets a zero position.
func (d *Database) UserEarning(
	vaultId string,
	walletAddress string,
) (*UserEarning, error) {
	var earning UserEarning
	result := d.db.First(
		&earning,
		"vault_id = ? AND wallet_address = ?",
		vaultId,
		walletAddress,
	)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return &UserEarning{
				VaultID:       vaultId,
				WalletAddress: walletAddress,
			}, nil
		}
		return nil, result.Error
	}
	return &earning, nil
}

// RecordWithdrawal logs a submitted withdrawal and debits the wallet's
// cumulative position
func (d *Database) RecordWithdrawal(
	vaultId string,
	walletAddress string,
	amount uint64,
	txHash string,
	redeemed bool,
) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		entry := &VaultLedgerEntry{
			TxID:          txHash,
			VaultID:       vaultId,
			WalletAddress: walletAddress,
			ActionType:    ActionWithdrawal,
			Status:        StatusPending,
			Amount:        amount,
			Asset:         "lovelace",
			Redeemed:      redeemed,
		}
		if result := tx.Create(entry); result.Error != nil {
			return result.Error
		}
		var earning UserEarning
		result := tx.First(
			&earning,
			"vault_id = ? AND wallet_address = ?",
			vaultId,
			walletAddress,
		)
		if result.Error != nil {
			return result.Error
		}
		return tx.Model(&earning).
			Update(
				"total_withdrawal",
				gorm.Expr("total_withdrawal + ?", amount),
			).Error
	})
}

// CompleteWithdrawal marks a submitted withdrawal completed once it is
// observed on chain
func (d *Database) CompleteWithdrawal(
	txHash string,
	vaultId string,
) error {
	result := d.db.Model(&VaultLedgerEntry{}).
		Where(
			"tx_id = ? AND vault_id = ? AND action_type = ?",
			txHash,
			vaultId,
			ActionWithdrawal,
		).
		Update("status", StatusCompleted)
	return result.Error
}

// LedgerEntry fetches a single action-log row by transaction and vault
func (d *Database) LedgerEntry(
	txId string,
	vaultId string,
) (*VaultLedgerEntry, error) {
	var entry VaultLedgerEntry
	result := d.db.First(
		&entry,
		"tx_id = ? AND vault_id = ?",
		txId,
		vaultId,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	return &entry, nil
}

func creditDeposit(
	tx *gorm.DB,
	vaultId string,
	walletAddress string,
	amount uint64,
) error {
	var earning UserEarning
	result := tx.First(
		&earning,
		"vault_id = ? AND wallet_address = ?",
		vaultId,
		walletAddress,
	)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		earning = UserEarning{
			VaultID:       vaultId,
			WalletAddress: walletAddress,
			TotalDeposit:  amount,
			CurrentValue:  amount,
		}
		return tx.Create(&earning).Error
	}
	return tx.Model(&earning).
		Updates(map[string]any{
			"total_deposit": gorm.Expr("total_deposit + ?", amount),
			"current_value": gorm.Expr("current_value + ?", amount),
		}).Error
}
