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

// Package datum implements the binary codec for the vault contract's
// on-chain data: the vault state datum carried by the script UTxO, the
// deposit receipt datum attached to user deposits, and the action
// redeemer used when spending the script UTxO. All structures are
// tagged constructor records (Plutus data); the codec is strict about
// field counts and types so that a contract change cannot be silently
// misread.
package datum

import (
	"errors"
	"fmt"
	"math/big"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/blinklabs-io/plutigo/data"
)

// Vault lifecycle states as encoded in the on-chain datum
const (
	VaultStateOpen         = 0 // accepting deposits
	VaultStateTrading      = 1
	VaultStateWithdrawable = 2
	VaultStateClosed       = 3
)

// Redeemer action tags recognized by the vault contract
const (
	RedeemerTagDeposit  = 1
	RedeemerTagTrade    = 4
	RedeemerTagWithdraw = 8
	RedeemerTagClose    = 9
)

const (
	keyHashLen = 28
)

var (
	ErrMissingDatum  = errors.New("missing inline datum")
	ErrMalformedData = errors.New("malformed datum")
)

// VaultDatum is the vault contract's state record. Any transaction
// spending the vault's script UTxO must reproduce these fields
// unchanged in the continuing output's datum; only the attached value
// may differ.
type VaultDatum struct {
	State            uint64
	Manager          []byte // manager payment key hash (28 bytes)
	AssetPolicy      []byte // pooled asset policy id
	AssetName        []byte // pooled asset name
	MaxUsers         uint64
	TradingTime      uint64
	WithdrawableTime uint64
	TotalCapital     uint64 // total ADA contributed (lovelace)
	PostMoneyValue   uint64 // snapshot of tracked asset amount
}

// ToPlutusData converts the vault datum to its on-chain representation
func (d *VaultDatum) ToPlutusData() data.PlutusData {
	return data.NewConstr(0,
		data.NewInteger(new(big.Int).SetUint64(d.State)),
		data.NewByteString(d.Manager),
		data.NewByteString(d.AssetPolicy),
		data.NewByteString(d.AssetName),
		data.NewInteger(new(big.Int).SetUint64(d.MaxUsers)),
		data.NewInteger(new(big.Int).SetUint64(d.TradingTime)),
		data.NewInteger(new(big.Int).SetUint64(d.WithdrawableTime)),
		data.NewInteger(new(big.Int).SetUint64(d.TotalCapital)),
		data.NewInteger(new(big.Int).SetUint64(d.PostMoneyValue)),
	)
}

// Encode returns the CBOR encoding of the vault datum
func (d *VaultDatum) Encode() ([]byte, error) {
	return data.Encode(d.ToPlutusData())
}

// DecodeVaultDatum decodes a vault state datum from CBOR. It fails on
// any deviation from the expected constructor shape rather than
// guessing at field positions.
func DecodeVaultDatum(cborData []byte) (*VaultDatum, error) {
	pd, err := data.Decode(cborData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedData, err)
	}
	constr, ok := pd.(*data.Constr)
	if !ok {
		return nil, fmt.Errorf(
			"%w: expected constructor, got %T",
			ErrMalformedData,
			pd,
		)
	}
	if constr.Tag != 0 {
		return nil, fmt.Errorf(
			"%w: unexpected constructor tag %d",
			ErrMalformedData,
			constr.Tag,
		)
	}
	if len(constr.Fields) != 9 {
		return nil, fmt.Errorf(
			"%w: expected 9 fields, got %d",
			ErrMalformedData,
			len(constr.Fields),
		)
	}
	ret := &VaultDatum{}
	var fieldErr error
	ret.State, fieldErr = fieldUint(constr.Fields, 0, fieldErr)
	ret.Manager, fieldErr = fieldBytes(constr.Fields, 1, fieldErr)
	ret.AssetPolicy, fieldErr = fieldBytes(constr.Fields, 2, fieldErr)
	ret.AssetName, fieldErr = fieldBytes(constr.Fields, 3, fieldErr)
	ret.MaxUsers, fieldErr = fieldUint(constr.Fields, 4, fieldErr)
	ret.TradingTime, fieldErr = fieldUint(constr.Fields, 5, fieldErr)
	ret.WithdrawableTime, fieldErr = fieldUint(constr.Fields, 6, fieldErr)
	ret.TotalCapital, fieldErr = fieldUint(constr.Fields, 7, fieldErr)
	ret.PostMoneyValue, fieldErr = fieldUint(constr.Fields, 8, fieldErr)
	if fieldErr != nil {
		return nil, fieldErr
	}
	if len(ret.Manager) != keyHashLen {
		return nil, fmt.Errorf(
			"%w: manager key hash must be %d bytes, got %d",
			ErrMalformedData,
			keyHashLen,
			len(ret.Manager),
		)
	}
	return ret, nil
}

// DepositDatum is the receipt datum attached to a user's deposit
// output at the vault script address. The embedded identity hash is
// authoritative for crediting: it is either a bare payment key hash
// (28 bytes) or payment plus staking key hashes (56 bytes).
type DepositDatum struct {
	UserKeyHash []byte
	PoolName    []byte
}

// ToPlutusData converts the deposit datum to its on-chain representation
func (d *DepositDatum) ToPlutusData() data.PlutusData {
	return data.NewConstr(0,
		data.NewByteString(d.UserKeyHash),
		data.NewByteString(d.PoolName),
	)
}

// Encode returns the CBOR encoding of the deposit datum
func (d *DepositDatum) Encode() ([]byte, error) {
	return data.Encode(d.ToPlutusData())
}

// DecodeDepositDatum decodes a deposit receipt datum from CBOR
func DecodeDepositDatum(cborData []byte) (*DepositDatum, error) {
	pd, err := data.Decode(cborData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedData, err)
	}
	constr, ok := pd.(*data.Constr)
	if !ok {
		return nil, fmt.Errorf(
			"%w: expected constructor, got %T",
			ErrMalformedData,
			pd,
		)
	}
	if len(constr.Fields) != 2 {
		return nil, fmt.Errorf(
			"%w: expected 2 fields, got %d",
			ErrMalformedData,
			len(constr.Fields),
		)
	}
	ret := &DepositDatum{}
	var fieldErr error
	ret.UserKeyHash, fieldErr = fieldBytes(constr.Fields, 0, fieldErr)
	ret.PoolName, fieldErr = fieldBytes(constr.Fields, 1, fieldErr)
	if fieldErr != nil {
		return nil, fieldErr
	}
	if len(ret.UserKeyHash) != keyHashLen &&
		len(ret.UserKeyHash) != 2*keyHashLen {
		return nil, fmt.Errorf(
			"%w: identity hash must be %d or %d bytes, got %d",
			ErrMalformedData,
			keyHashLen,
			2*keyHashLen,
			len(ret.UserKeyHash),
		)
	}
	return ret, nil
}

// ContributorAddress reconstructs the depositor's address from the
// datum's identity hash for the given address network id
func (d *DepositDatum) ContributorAddress(
	networkId uint8,
) (lcommon.Address, error) {
	switch len(d.UserKeyHash) {
	case keyHashLen:
		return lcommon.NewAddressFromParts(
			lcommon.AddressTypeKeyNone,
			networkId,
			d.UserKeyHash,
			nil,
		)
	case 2 * keyHashLen:
		return lcommon.NewAddressFromParts(
			lcommon.AddressTypeKeyKey,
			networkId,
			d.UserKeyHash[:keyHashLen],
			d.UserKeyHash[keyHashLen:],
		)
	default:
		return lcommon.Address{}, fmt.Errorf(
			"%w: identity hash must be %d or %d bytes, got %d",
			ErrMalformedData,
			keyHashLen,
			2*keyHashLen,
			len(d.UserKeyHash),
		)
	}
}

// Redeemer is the action argument passed when spending the vault's
// script UTxO. Tag selects the contract branch; the remaining fields
// are action-specific and zeroed when unused.
type Redeemer struct {
	Tag uint64
	I1  uint64
	I2  uint64
	I3  uint64
	B1  []byte
	B2  []byte
}

// NewWithdrawRedeemer returns a redeemer selecting the contract's
// withdraw branch with all auxiliary fields zeroed
func NewWithdrawRedeemer() *Redeemer {
	return &Redeemer{
		Tag: RedeemerTagWithdraw,
		B1:  []byte{},
		B2:  []byte{},
	}
}

// ToPlutusData converts the redeemer to its on-chain representation
func (r *Redeemer) ToPlutusData() data.PlutusData {
	return data.NewConstr(0,
		data.NewInteger(new(big.Int).SetUint64(r.Tag)),
		data.NewInteger(new(big.Int).SetUint64(r.I1)),
		data.NewInteger(new(big.Int).SetUint64(r.I2)),
		data.NewInteger(new(big.Int).SetUint64(r.I3)),
		data.NewByteString(r.B1),
		data.NewByteString(r.B2),
	)
}

// Encode returns the CBOR encoding of the redeemer
func (r *Redeemer) Encode() ([]byte, error) {
	return data.Encode(r.ToPlutusData())
}

func fieldBytes(
	fields []data.PlutusData,
	idx int,
	prevErr error,
) ([]byte, error) {
	if prevErr != nil {
		return nil, prevErr
	}
	bs, ok := fields[idx].(*data.ByteString)
	if !ok {
		return nil, fmt.Errorf(
			"%w: field %d: expected bytes, got %T",
			ErrMalformedData,
			idx,
			fields[idx],
		)
	}
	return bs.Inner, nil
}

func fieldUint(
	fields []data.PlutusData,
	idx int,
	prevErr error,
) (uint64, error) {
	if prevErr != nil {
		return 0, prevErr
	}
	iv, ok := fields[idx].(*data.Integer)
	if !ok {
		return 0, fmt.Errorf(
			"%w: field %d: expected integer, got %T",
			ErrMalformedData,
			idx,
			fields[idx],
		)
	}
	if iv.Inner.Sign() < 0 || !iv.Inner.IsUint64() {
		return 0, fmt.Errorf(
			"%w: field %d: integer out of range",
			ErrMalformedData,
			idx,
		)
	}
	return iv.Inner.Uint64(), nil
}
