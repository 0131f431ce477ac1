package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sisu-network/lib/log"
	"github.com/spf13/cobra"
)

const (
	EnvPrivateKey = "SENDER_PRIVATE_KEY"
	EnvRpcUrl     = "RPC_URL"

	ExitFatal  = 1
	ExitFailed = 2
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func initialize() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Cannot load .env file, err = ", err)
	}
}

func main() {
	initialize()

	rootCmd := &cobra.Command{
		Use:           "disperse",
		Short:         "Distribute native currency or ERC20 tokens to many recipients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		distributeCmd(),
		balanceCmd(),
		initConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		code := ExitFatal
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}

		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}
