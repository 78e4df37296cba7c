package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/native/evolution"
)

// Validate checks the configuration before it is used to seed genesis.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	// The owner is resolved from the keystore when unset, so any non-zero
	// placeholder is enough to validate the remaining tables.
	g, err := c.Evolution.Genesis(common.Address{1})
	if err != nil {
		return err
	}
	if len(g.RewardPercentages) > 0 {
		if _, err := evolution.NewRewardTable(g.TotalLevels, g.RewardPercentages); err != nil {
			return fmt.Errorf("evolution.RewardPercentages: %w", err)
		}
	}
	if _, err := evolution.NewCriteriaTable(g.TotalLevels, g.CriteriaLevels, g.Criteria); err != nil {
		return fmt.Errorf("evolution.Criteria: %w", err)
	}
	if c.RPC.RegisterRatePerSecond < 0 || c.RPC.RegisterBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	return nil
}
