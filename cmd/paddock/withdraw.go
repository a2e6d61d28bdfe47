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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/blinklabs-io/paddock/chain"
	"github.com/blinklabs-io/paddock/database"
	"github.com/blinklabs-io/paddock/internal/config"
	"github.com/blinklabs-io/paddock/vault"
	"github.com/blinklabs-io/paddock/wallet"
	"github.com/spf13/cobra"
)

var withdrawFlags = struct {
	vaultId       string
	walletAddress string
	amountAda     float64
}{}

func withdrawRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()

	if cfg.BlockfrostProject == "" {
		slog.Error(
			"no Blockfrost project ID configured " +
				"(set BLOCKFROST_PROJECT_ID or blockfrostProject)",
		)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabasePath, logger)
	if err != nil {
		slog.Error(fmt.Sprintf("failed to open database: %s", err))
		os.Exit(1)
	}
	defer db.Close()

	chainClient := chain.NewClient(
		chain.ClientConfig{
			BaseURL:   cfg.BlockfrostEndpoint,
			ProjectID: cfg.BlockfrostProject,
			Timeout:   cfg.ChainTimeoutDuration(),
		},
		logger,
	)
	resolver := wallet.NewResolver(wallet.ResolverConfig{
		Path:    cfg.WalletsPath,
		Network: cfg.Network,
		Logger:  logger,
	})
	svc, err := vault.New(vault.Config{
		Logger:   logger,
		Database: db,
		Chain:    chainClient,
		Wallets:  resolver,
	})
	if err != nil {
		slog.Error(fmt.Sprintf("failed to create vault service: %s", err))
		os.Exit(1)
	}

	result := svc.Withdraw(context.Background(), vault.WithdrawRequest{
		VaultID:       withdrawFlags.vaultId,
		WalletAddress: withdrawFlags.walletAddress,
		AmountAda:     withdrawFlags.amountAda,
	})
	if !result.Ok {
		slog.Error(
			"withdrawal failed",
			"vault_id", withdrawFlags.vaultId,
			"wallet", withdrawFlags.walletAddress,
			"reason", result.Reason,
		)
		os.Exit(1)
	}
	fmt.Printf(
		"withdrawal submitted: %d lovelace in tx %s\n",
		result.Amount,
		result.TxHash,
	)
}

func withdrawCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Submit a withdrawal from a vault",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			withdrawRun(cmd, args, cfg)
		},
	}
	cmd.Flags().StringVar(
		&withdrawFlags.vaultId,
		"vault",
		"",
		"vault identifier",
	)
	cmd.Flags().StringVar(
		&withdrawFlags.walletAddress,
		"wallet",
		"",
		"wallet address to pay",
	)
	cmd.Flags().Float64Var(
		&withdrawFlags.amountAda,
		"amount",
		0,
		"amount in ADA (0 withdraws the full balance)",
	)
	if err := cmd.MarkFlagRequired("vault"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("wallet"); err != nil {
		panic(err)
	}
	return cmd
}
