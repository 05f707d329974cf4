// Package swarm holds the run configuration shared by the swarm
// commands.
package swarm

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

type Config struct {
	Node     NodeConfig     `toml:"node"`
	Swarm    SwarmConfig    `toml:"swarm"`
	Training TrainingConfig `toml:"training"`
}

type NodeConfig struct {
	Role         string `toml:"role"` // "coordinator" or "follower"
	IdentityFile string `toml:"identity_file"`
	ListenAddr   string `toml:"listen_addr"`
}

type SwarmConfig struct {
	BootstrapPeers   []string `toml:"bootstrap_peers"`
	OutputExpiration string   `toml:"output_expiration"`
}

type TrainingConfig struct {
	MaxRounds    int    `toml:"max_rounds"`
	TrainTimeout string `toml:"train_timeout"`
	OutputDir    string `toml:"output_dir"`
	HubToken     string `toml:"hub_token"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Node.Role != "coordinator" && c.Node.Role != "follower" {
		return fmt.Errorf("node.role must be %q or %q", "coordinator", "follower")
	}
	if c.Node.IdentityFile == "" {
		return errors.New("node.identity_file is required")
	}
	if c.Training.MaxRounds <= 0 {
		return errors.New("training.max_rounds must be positive")
	}
	if c.Training.OutputDir == "" {
		return errors.New("training.output_dir is required")
	}
	if _, err := c.TrainTimeout(); err != nil {
		return err
	}
	if _, err := c.OutputExpiration(); err != nil {
		return err
	}

	return nil
}

// TrainTimeout is the overall training wall-clock ceiling.
func (c *Config) TrainTimeout() (time.Duration, error) {
	if c.Training.TrainTimeout == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.Training.TrainTimeout)
	if err != nil {
		return 0, fmt.Errorf("training.train_timeout is not a valid duration: %w", err)
	}

	return d, nil
}

// OutputExpiration is how long published store entries stay visible.
func (c *Config) OutputExpiration() (time.Duration, error) {
	if c.Swarm.OutputExpiration == "" {
		return time.Hour, nil
	}
	d, err := time.ParseDuration(c.Swarm.OutputExpiration)
	if err != nil {
		return 0, fmt.Errorf("swarm.output_expiration is not a valid duration: %w", err)
	}

	return d, nil
}
