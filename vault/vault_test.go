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
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/paddock/chain"
	"github.com/blinklabs-io/paddock/database"
	"github.com/blinklabs-io/paddock/datum"
	"github.com/blinklabs-io/paddock/event"
	"github.com/blinklabs-io/paddock/wallet"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// fakeChain is an in-memory chain.Reader for tests
type fakeChain struct {
	mu        sync.Mutex
	txs       map[string]*chain.Transaction
	txUtxos   map[string]*chain.TransactionUtxos
	addrUtxos map[string][]chain.AddressUtxo
	block     chain.Block
	pparams   chain.ProtocolParameters
	txErr     error
	submitErr error
	submitted [][]byte
	// when set, Transaction blocks until the channel is closed
	gate chan struct{}
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:       make(map[string]*chain.Transaction),
		txUtxos:   make(map[string]*chain.TransactionUtxos),
		addrUtxos: make(map[string][]chain.AddressUtxo),
		block:     chain.Block{Slot: 140_000_000, Height: 9_000_000},
		pparams: chain.ProtocolParameters{
			MinFeeA:   44,
			MinFeeB:   155381,
			MaxTxSize: 16384,
			PriceMem:  0.0577,
			PriceStep: 0.0000721,
		},
	}
}

func notFound(message string) error {
	return &chain.APIError{
		StatusCode: 404,
		Error_:     "Not Found",
		Message:    message,
	}
}

func (f *fakeChain) Transaction(
	_ context.Context,
	txId string,
) (*chain.Transaction, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txErr != nil {
		return nil, f.txErr
	}
	tx, ok := f.txs[txId]
	if !ok {
		return nil, notFound("no such transaction")
	}
	return tx, nil
}

func (f *fakeChain) TransactionUtxos(
	_ context.Context,
	txId string,
) (*chain.TransactionUtxos, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	utxos, ok := f.txUtxos[txId]
	if !ok {
		return nil, notFound("no such transaction")
	}
	return utxos, nil
}

func (f *fakeChain) AddressUtxos(
	_ context.Context,
	address string,
) ([]chain.AddressUtxo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addrUtxos[address], nil
}

func (f *fakeChain) LatestBlock(
	_ context.Context,
) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block := f.block
	return &block, nil
}

func (f *fakeChain) ProtocolParameters(
	_ context.Context,
) (*chain.ProtocolParameters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pparams := f.pparams
	return &pparams, nil
}

func (f *fakeChain) SubmitTransaction(
	_ context.Context,
	txCbor []byte,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, txCbor)
	return "submitted" + strconv.Itoa(len(f.submitted)), nil
}

// Fixed test key material

var testSeed = func() []byte {
	ret := make([]byte, ed25519.SeedSize)
	for i := range ret {
		ret[i] = byte(i + 1)
	}
	return ret
}()

func testManagerKeyHash() []byte {
	privKey := ed25519.NewKeyFromSeed(testSeed)
	pubKey := privKey.Public().(ed25519.PublicKey)
	return lcommon.Blake2b224Hash(pubKey).Bytes()
}

func testUserKeyHash() []byte {
	ret := make([]byte, 28)
	for i := range ret {
		ret[i] = 0xc3
	}
	return ret
}

func testContributorAddress(t *testing.T) string {
	t.Helper()
	d := &datum.DepositDatum{
		UserKeyHash: testUserKeyHash(),
		PoolName:    []byte("SNEK"),
	}
	addr, err := d.ContributorAddress(lcommon.AddressNetworkMainnet)
	require.NoError(t, err)
	return addr.String()
}

func testScriptAddress(t *testing.T) string {
	t.Helper()
	scriptHash := make([]byte, 28)
	for i := range scriptHash {
		scriptHash[i] = 0xe5
	}
	addr, err := lcommon.NewAddressFromParts(
		lcommon.AddressTypeScriptNone,
		lcommon.AddressNetworkMainnet,
		scriptHash,
		nil,
	)
	require.NoError(t, err)
	return addr.String()
}

type testEnv struct {
	service *Service
	db      *database.Database
	chain   *fakeChain
	bus     *event.EventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	managerHash := hex.EncodeToString(testManagerKeyHash())
	walletsPath := filepath.Join(t.TempDir(), "wallets.yaml")
	require.NoError(t, os.WriteFile(
		walletsPath,
		[]byte(fmt.Sprintf(
			"mainnet:\n  %s:\n    private_key: %s\n",
			managerHash,
			hex.EncodeToString(testSeed),
		)),
		0o600,
	))
	resolver := wallet.NewResolver(wallet.ResolverConfig{
		Path:    walletsPath,
		Network: "mainnet",
	})
	fc := newFakeChain()
	bus := event.NewEventBus(nil, nil)
	t.Cleanup(bus.Stop)
	svc, err := New(Config{
		Database:     db,
		Chain:        fc,
		Wallets:      resolver,
		EventBus:     bus,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	// Tests never want real backoff sleeps
	svc.queue.sleep = func(time.Duration) {}
	return &testEnv{
		service: svc,
		db:      db,
		chain:   fc,
		bus:     bus,
	}
}

func (e *testEnv) seedVault(t *testing.T, scriptHex string) {
	t.Helper()
	require.NoError(t, e.db.RegisterDeployment(
		&database.Vault{
			VaultID:        "vault-1",
			Name:           "test vault",
			PoolID:         "pid123.SNEK",
			ScriptAddress:  testScriptAddress(t),
			ScriptHex:      scriptHex,
			ManagerKeyHash: hex.EncodeToString(testManagerKeyHash()),
			Network:        "mainnet",
		},
		"aa"+hexPad("01", 31),
		0,
	))
}

// hexPad repeats a hex byte to build a fixed-length hash string
func hexPad(b string, n int) string {
	ret := ""
	for range n {
		ret += b
	}
	return ret
}

// seedDepositOnChain registers a deposit transaction on the fake chain
func (e *testEnv) seedDepositOnChain(
	t *testing.T,
	txId string,
	lovelace uint64,
	poolName string,
) {
	t.Helper()
	depositDatum := &datum.DepositDatum{
		UserKeyHash: testUserKeyHash(),
		PoolName:    []byte(poolName),
	}
	datumCbor, err := depositDatum.Encode()
	require.NoError(t, err)
	e.chain.mu.Lock()
	defer e.chain.mu.Unlock()
	e.chain.txs[txId] = &chain.Transaction{
		Hash:      txId,
		BlockTime: 1_755_000_000,
		Fees:      "180000",
	}
	e.chain.txUtxos[txId] = &chain.TransactionUtxos{
		Hash: txId,
		Outputs: []chain.TxOutput{
			{
				Address: testScriptAddress(t),
				Amount: []chain.Amount{
					{
						Unit: "lovelace",
						Quantity: strconv.FormatUint(
							lovelace, 10,
						),
					},
				},
				OutputIndex: 0,
				InlineDatum: hex.EncodeToString(datumCbor),
			},
		},
	}
}
