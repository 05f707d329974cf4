package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swarmml/swarm/swarmd"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "swarm",
		Short: "Swarm training coordinator",
		Long:  `Coordinate a multi-node, multi-stage training run over a shared DHT.`,
	}
	rootCmd.AddCommand(swarmd.NewNodeCmd())
	rootCmd.AddCommand(swarmd.NewIdentityCmd())

	return rootCmd.ExecuteContext(ctx)
}
