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

// Package wallet loads manager signing keys from an operator-provided
// YAML file. The file is keyed by network name, then by payment key
// hash; each entry carries a raw ed25519 seed in hex.
package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"gopkg.in/yaml.v3"
)

var (
	ErrWalletsFileNotFound = errors.New("wallets file not found")
	ErrNetworkNotFound     = errors.New("network not present in wallets file")
	ErrWalletNotFound      = errors.New("wallet not present in wallets file")
	ErrNoPrivateKey        = errors.New("wallet entry has no private key")
)

// Wallet is a loaded manager signing identity
type Wallet struct {
	KeyHash    []byte // payment key hash (28 bytes)
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// walletEntry is a single wallet record in the YAML file
type walletEntry struct {
	PrivateKey string `yaml:"private_key"`
	Address    string `yaml:"address"`
	Name       string `yaml:"name"`
}

// ResolverConfig configures the wallet resolver
type ResolverConfig struct {
	// Path is the YAML wallets file location
	Path string
	// Network selects the top-level section of the wallets file
	Network string
	// Logger for resolver events
	Logger *slog.Logger
}

// Resolver resolves manager key hashes to signing keys, caching
// loaded wallets in memory. Changing the path or network drops the
// whole cache, since cached entries belong to the old file section.
type Resolver struct {
	mu      sync.Mutex
	config  ResolverConfig
	logger  *slog.Logger
	wallets map[string]*Wallet
}

// NewResolver creates a new wallet resolver
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "wallet")
	return &Resolver{
		config:  cfg,
		logger:  logger,
		wallets: make(map[string]*Wallet),
	}
}

// SetSource repoints the resolver at a different wallets file or
// network section and invalidates all cached wallets
func (r *Resolver) SetSource(path string, network string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path == r.config.Path && network == r.config.Network {
		return
	}
	r.config.Path = path
	r.config.Network = network
	r.wallets = make(map[string]*Wallet)
	r.logger.Info(
		"wallet source changed, cache invalidated",
		"path", path,
		"network", network,
	)
}

// Resolve returns the manager wallet for the given payment key hash
// (hex). An empty hash selects the first entry in the network section.
func (r *Resolver) Resolve(keyHashHex string) (*Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.wallets[keyHashHex]; ok {
		return cached, nil
	}
	w, err := r.load(keyHashHex)
	if err != nil {
		return nil, err
	}
	r.wallets[keyHashHex] = w
	return w, nil
}

func (r *Resolver) load(keyHashHex string) (*Wallet, error) {
	rawFile, err := os.ReadFile(r.config.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf(
				"%w: %s",
				ErrWalletsFileNotFound,
				r.config.Path,
			)
		}
		return nil, fmt.Errorf("failed to read wallets file: %w", err)
	}
	// network name -> key hash (hex) -> wallet entry
	var fileData map[string]map[string]walletEntry
	if err := yaml.Unmarshal(rawFile, &fileData); err != nil {
		return nil, fmt.Errorf(
			"malformed wallets file %s: %w",
			r.config.Path,
			err,
		)
	}
	networkWallets, ok := fileData[r.config.Network]
	if !ok {
		return nil, fmt.Errorf(
			"%w: %s",
			ErrNetworkNotFound,
			r.config.Network,
		)
	}
	selectedHash := keyHashHex
	if selectedHash == "" {
		// No hash requested: take any entry. YAML maps are
		// unordered in Go, so a multi-entry file with no explicit
		// hash is operator error; single-entry files are the
		// common case.
		for hash := range networkWallets {
			selectedHash = hash
			break
		}
		if len(networkWallets) > 1 {
			r.logger.Warn(
				"multiple wallets and no key hash requested",
				"network", r.config.Network,
				"selected", selectedHash,
			)
		}
	}
	entry, ok := networkWallets[selectedHash]
	if !ok {
		return nil, fmt.Errorf(
			"%w: %s (network %s)",
			ErrWalletNotFound,
			selectedHash,
			r.config.Network,
		)
	}
	if entry.PrivateKey == "" {
		return nil, fmt.Errorf(
			"%w: %s",
			ErrNoPrivateKey,
			selectedHash,
		)
	}
	seed, err := hex.DecodeString(entry.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf(
			"malformed private key hex for wallet %s: %w",
			selectedHash,
			err,
		)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"private key for wallet %s must be %d bytes, got %d",
			selectedHash,
			ed25519.SeedSize,
			len(seed),
		)
	}
	privKey := ed25519.NewKeyFromSeed(seed)
	pubKey := privKey.Public().(ed25519.PublicKey)
	keyHash := lcommon.Blake2b224Hash(pubKey)
	if keyHashHex != "" {
		if hex.EncodeToString(keyHash.Bytes()) != keyHashHex {
			return nil, fmt.Errorf(
				"wallet %s private key derives a different key hash %x",
				selectedHash,
				keyHash.Bytes(),
			)
		}
	}
	r.logger.Debug(
		"loaded manager wallet",
		"key_hash", hex.EncodeToString(keyHash.Bytes()),
		"network", r.config.Network,
	)
	return &Wallet{
		KeyHash:    keyHash.Bytes(),
		PrivateKey: privKey,
		PublicKey:  pubKey,
	}, nil
}

// Sign signs a message with the wallet's private key
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.PrivateKey, message)
}
