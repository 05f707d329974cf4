// Package swarmd wires swarm nodes into runnable cobra commands.
package swarmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/swarmml/swarm/pkg/dht"
)

const defaultConfigPath = "swarm.toml"

var configPath string

var startCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start a swarm node",
		Long:  `Start a swarm node with the role configured in the run file.`,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, cancel := context.WithCancel(cmd.Context())
			if err := Start(ctx, cancel, configPath, nil); err != nil {
				cmd.PrintErrf("failed to start node: %s\n", err.Error())
			}
			cancel()
		},
	},
}

var identityCmd = []cobra.Command{
	{
		Use:   "generate <path>",
		Short: "Generate a node identity",
		Long:  `Generate a fresh node identity key and write it to the given path.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := dht.GenerateIdentity(args[0])
			if err != nil {
				cmd.PrintErrf("failed to generate identity: %s\n", err.Error())

				return
			}
			cmd.Printf("identity written to %s\npeer id: %s\n", args[0], id.String())
		},
	},
}

func NewNodeCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "node [start]",
		Short: "Node management",
		Long:  `Run a swarm training node.`,
	}

	for i := range startCmd {
		cmd.AddCommand(&startCmd[i])
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the run configuration file")

	return &cmd
}

func NewIdentityCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "identity [generate]",
		Short: "Identity management",
		Long:  `Generate and inspect node identities.`,
	}

	for i := range identityCmd {
		cmd.AddCommand(&identityCmd[i])
	}

	return &cmd
}
