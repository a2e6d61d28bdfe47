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
	"time"
)

// Ledger entry action types
const (
	ActionDeposit    = "deposit"
	ActionWithdrawal = "withdrawal"
	ActionClaim      = "claim"
	ActionReinvest   = "reinvest"
)

// Ledger entry statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// MigrateModels is the list of model objects to auto-migrate on open
var MigrateModels = []any{
	&Vault{},
	&VaultConfigUtxo{},
	&VaultLedgerEntry{},
	&UserEarning{},
}

// Vault describes a deployed vault contract instance
type Vault struct {
	ID      uint   `gorm:"primarykey"`
	VaultID string `gorm:"uniqueIndex"`
	Name    string
	// PoolID is "<policy hex>.<asset name>" for the pooled asset
	PoolID        string
	ScriptAddress string
	// ScriptHex is the compiled Plutus script attached when spending
	// the vault UTxO
	ScriptHex      string
	ManagerKeyHash string
	Network        string
	CreatedAt      time.Time
}

func (Vault) TableName() string {
	return "vault"
}

// VaultConfigUtxo tracks the vault's live script UTxO, which moves
// forward each time a transaction spends it
type VaultConfigUtxo struct {
	ID          uint   `gorm:"primarykey"`
	VaultID     string `gorm:"uniqueIndex"`
	TxHash      string
	OutputIndex uint32
	UpdatedAt   time.Time
}

func (VaultConfigUtxo) TableName() string {
	return "vault_config_utxo"
}

// VaultLedgerEntry is one row of the vault action log. Deposits start
// pending and move to completed or failed; withdrawals are recorded at
// submission time.
type VaultLedgerEntry struct {
	ID            uint   `gorm:"primarykey"`
	TxID          string `gorm:"index:idx_ledger_tx_vault,unique"`
	VaultID       string `gorm:"index:idx_ledger_tx_vault,unique"`
	WalletAddress string `gorm:"index"`
	ActionType    string
	Status        string `gorm:"index"`
	Amount        uint64 // lovelace
	Asset         string
	BlockTime     uint64
	Fee           string
	FailureReason string
	Redeemed      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (VaultLedgerEntry) TableName() string {
	return "vault_ledger_entry"
}

// UserEarning is the cumulative deposit/withdrawal position for a
// wallet within a vault. CurrentValue starts equal to the deposits and
// is revalued independently as the pooled position changes.
type UserEarning struct {
	ID              uint   `gorm:"primarykey"`
	VaultID         string `gorm:"index:idx_earning_vault_wallet,unique"`
	WalletAddress   string `gorm:"index:idx_earning_vault_wallet,unique"`
	TotalDeposit    uint64 // lovelace
	TotalWithdrawal uint64 // lovelace
	CurrentValue    uint64 // lovelace
	UpdatedAt       time.Time
}

func (UserEarning) TableName() string {
	return "user_earning"
}

// Withdrawable returns the wallet's remaining withdrawable balance
func (e *UserEarning) Withdrawable() uint64 {
	if e.TotalWithdrawal >= e.TotalDeposit {
		return 0
	}
	return e.TotalDeposit - e.TotalWithdrawal
}
