package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sisu-network/disperse/chains/eth"
	"github.com/sisu-network/disperse/config"
	"github.com/sisu-network/disperse/core"
	"github.com/sisu-network/disperse/types"
	"github.com/sisu-network/disperse/utils"
	"github.com/sisu-network/lib/log"
	"github.com/spf13/cobra"
)

const (
	FlagConfigFile    = "config-file"
	FlagRecipients    = "recipients"
	FlagToken         = "token"
	FlagNetwork       = "network"
	FlagConcurrency   = "concurrency"
	FlagConfirmations = "confirmations"
	FlagOnFailure     = "on-failure"
	FlagReport        = "report"
)

type distributeFlags struct {
	configPath     string
	recipientsPath string
	token          string
	network        string
	reportPath     string
	concurrency    int
	confirmations  uint64
	onFailure      string
}

func distributeCmd() *cobra.Command {
	flags := &distributeFlags{}

	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Send one transfer per recipient and wait for confirmations",
		Long: `Send native currency, or an ERC20 token with --token, to every recipient of a csv file.

Each line of the recipients file is "address,amount" where amount is in whole units, e.g. 0.01.
Lines starting with # are ignored. The sender key is read from SENDER_PRIVATE_KEY.

Exit code is 0 when every transfer is confirmed, 2 when some failed and 1 on a fatal error.

Example:
  disperse distribute -f ./config.toml -r ./recipients.csv --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			if err := applyDistributionFlags(cmd, cfg, flags); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := runDistribute(ctx, cfg, flags)
			if report != nil {
				printReport(os.Stdout, report)
				if flags.reportPath != "" {
					if writeErr := writeReport(flags.reportPath, report); writeErr != nil {
						log.Error("Cannot write report, err = ", writeErr)
					}
				}
			}

			if err != nil {
				return &exitError{code: ExitFatal, err: err}
			}
			if !report.Succeeded() {
				return &exitError{code: ExitFailed, err: fmt.Errorf("%s", report.Summary())}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, FlagConfigFile, "f", "", "Path to the toml config file, defaults are used when empty")
	cmd.Flags().StringVarP(&flags.recipientsPath, FlagRecipients, "r", "", "Path to the recipients csv file")
	cmd.Flags().StringVar(&flags.token, FlagToken, "", "ERC20 contract address, native currency when empty")
	cmd.Flags().StringVar(&flags.network, FlagNetwork, "", "Network name from the config file")
	cmd.Flags().StringVar(&flags.reportPath, FlagReport, "report.json", "Write the json report to this file, nothing is written when empty")
	cmd.Flags().IntVar(&flags.concurrency, FlagConcurrency, 1, "Max transfers waiting for confirmation at once")
	cmd.Flags().Uint64Var(&flags.confirmations, FlagConfirmations, 1, "Blocks to wait after inclusion")
	cmd.Flags().StringVar(&flags.onFailure, FlagOnFailure, config.OnFailureContinue, "What to do after a failed transfer: abort or continue")
	cmd.MarkFlagRequired(FlagRecipients)

	return cmd
}

func balanceCmd() *cobra.Command {
	var configPath, token, network string

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print the sender balance",
		Long: `Print the native or ERC20 balance of the account in SENDER_PRIVATE_KEY.

Example:
  disperse balance -f ./config.toml --token 0x1234...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, signer, err := connect(ctx, cfg, network)
			if err != nil {
				return err
			}

			balance, err := senderBalance(ctx, client, signer.Address(), token)
			if err != nil {
				return err
			}

			fmt.Printf("Balance of %s: %s\n", signer.Address().Hex(), balance)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, FlagConfigFile, "f", "", "Path to the toml config file, defaults are used when empty")
	cmd.Flags().StringVar(&token, FlagToken, "", "ERC20 contract address, native currency when empty")
	cmd.Flags().StringVar(&network, FlagNetwork, "", "Network name from the config file")

	return cmd
}

func initConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.toml"
			if len(args) == 1 {
				path = args[0]
			}

			if err := config.WriteFile(path, config.Default()); err != nil {
				return err
			}

			fmt.Println("Config is written to", path)
			return nil
		},
	}

	return cmd
}

func loadConfig(path string) (*config.Disperse, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}

	return config.Load(path)
}

// applyDistributionFlags lets command line flags override the config file.
func applyDistributionFlags(cmd *cobra.Command, cfg *config.Disperse, flags *distributeFlags) error {
	if cmd.Flags().Changed(FlagConcurrency) {
		cfg.Distribution.Concurrency = flags.concurrency
	}
	if cmd.Flags().Changed(FlagConfirmations) {
		cfg.Distribution.Confirmations = flags.confirmations
	}
	if cmd.Flags().Changed(FlagOnFailure) {
		cfg.Distribution.OnFailure = flags.onFailure
	}

	return cfg.Distribution.Validate()
}

// connect dials the selected network and checks that it is the chain the sender key signs for.
func connect(ctx context.Context, cfg *config.Disperse, name string) (eth.EthClient, eth.Signer, error) {
	network, err := cfg.SelectedNetwork(name)
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		name = cfg.Network
	}

	if rpc := os.Getenv(EnvRpcUrl); rpc != "" {
		log.Info("Using rpc from ", EnvRpcUrl)
		network.RpcUrls = []string{rpc}
	}

	keyHex := os.Getenv(EnvPrivateKey)
	if keyHex == "" {
		return nil, nil, fmt.Errorf("%s is not set", EnvPrivateKey)
	}
	key, err := utils.ParsePrivateKey(keyHex)
	if err != nil {
		return nil, nil, err
	}

	client, err := eth.NewEthClients(name, network.RpcUrls)
	if err != nil {
		return nil, nil, err
	}

	chainId, err := client.ChainID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot get chain id: %w", err)
	}
	if chainId.Int64() != network.ChainId {
		return nil, nil, fmt.Errorf("network %s expects chain id %d but rpc reports %s", name, network.ChainId, chainId)
	}

	return client, eth.NewPrivateKeySigner(key, chainId), nil
}

func runDistribute(ctx context.Context, cfg *config.Disperse, flags *distributeFlags) (*types.BatchReport, error) {
	lines, err := utils.ReadRecipients(flags.recipientsPath)
	if err != nil {
		return nil, err
	}

	client, signer, err := connect(ctx, cfg, flags.network)
	if err != nil {
		return nil, err
	}

	network, err := cfg.SelectedNetwork(flags.network)
	if err != nil {
		return nil, err
	}

	requests, err := buildRequests(ctx, lines, flags.token, eth.NewTokenReader(client))
	if err != nil {
		return nil, err
	}

	fee, err := eth.NewFeePolicy(cfg.Fee, client)
	if err != nil {
		return nil, err
	}

	waiter := eth.NewReceiptFetcher(client, cfg.Distribution.ConfirmationTimeoutDuration(), pollInterval(cfg.Distribution, network))
	distributor, err := core.NewDistributor(client, fee, cfg.Distribution,
		core.WithTokenGasLimit(cfg.Fee.TokenGasLimit),
		core.WithReceiptWaiter(waiter),
	)
	if err != nil {
		return nil, err
	}

	return distributor.Distribute(ctx, core.NewSender(signer), requests)
}

// pollInterval is the configured poll interval, shortened to the block time of fast chains.
func pollInterval(cfg config.Distribution, network config.Network) time.Duration {
	poll := cfg.PollIntervalDuration()
	blockTime := time.Duration(network.BlockTime) * time.Millisecond
	if blockTime > 0 && blockTime < poll {
		return blockTime
	}

	return poll
}

type decimalsReader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// buildRequests converts recipient lines into transfer requests in the smallest unit. A line with
// an unparsable amount becomes a request without amount so that it is reported as invalid.
func buildRequests(ctx context.Context, lines []utils.RecipientLine, token string, reader decimalsReader) ([]*types.TransferRequest, error) {
	asset := types.NativeAsset()
	decimals := int32(utils.EtherDecimals)

	if token != "" {
		asset = types.TokenAsset(token)
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("invalid token address %q", token)
		}

		d, err := reader.Decimals(ctx, common.HexToAddress(token))
		if err != nil {
			return nil, fmt.Errorf("cannot get token decimals: %w", err)
		}
		decimals = int32(d)
	}

	requests := make([]*types.TransferRequest, len(lines))
	for i, line := range lines {
		amount, err := utils.ParseUnits(line.Amount, decimals)
		if err != nil {
			log.Warnf("Line %d: invalid amount %q, err = %v", line.Line, line.Amount, err)
			amount = nil
		}

		requests[i] = types.NewTransfer(line.Address, amount, asset)
	}

	return requests, nil
}

func senderBalance(ctx context.Context, client eth.EthClient, owner common.Address, token string) (string, error) {
	if token == "" {
		balance, err := client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return "", err
		}

		return utils.FormatEther(balance) + " (native)", nil
	}

	if !common.IsHexAddress(token) {
		return "", fmt.Errorf("invalid token address %q", token)
	}

	reader := eth.NewTokenReader(client)
	contract := common.HexToAddress(token)
	decimals, err := reader.Decimals(ctx, contract)
	if err != nil {
		return "", err
	}
	balance, err := reader.BalanceOf(ctx, contract, owner)
	if err != nil {
		return "", err
	}

	return utils.FormatUnits(balance, int32(decimals)) + " (" + contract.Hex() + ")", nil
}

func printReport(w io.Writer, report *types.BatchReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRECIPIENT\tAMOUNT\tSTATUS\tNONCE\tTX HASH\tBLOCK\tREASON")

	for i, o := range report.Outcomes {
		recipient, amount := "", ""
		if o.Request != nil {
			recipient = o.Request.Recipient()
			if a := o.Request.Amount(); a != nil {
				amount = a.String()
			}
		}

		nonce, hash, block, reason := "-", "-", "-", ""
		if o.Submitted() {
			nonce = fmt.Sprint(o.Nonce)
			hash = o.TxHash.Hex()
		}
		if o.Status == types.StatusConfirmed {
			block = fmt.Sprint(o.BlockNumber)
		}
		if o.Status == types.StatusFailed {
			reason = o.Failure.String()
			if o.Err != nil {
				reason += ": " + o.Err.Error()
			}
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", i, recipient, amount, o.Status, nonce, hash, block, reason)
	}

	tw.Flush()
	fmt.Fprintln(w, report.Summary())
}

func writeReport(path string, report *types.BatchReport) error {
	bz, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, bz, 0o644)
}
