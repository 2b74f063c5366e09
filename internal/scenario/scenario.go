// Package scenario replays scripted vault and claim activity against an
// in-memory reward ledger.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step actions.
const (
	ActionRegister = "register"
	ActionSetRate  = "set_rate"
	ActionDeposit  = "deposit"
	ActionWithdraw = "withdraw"
	ActionTransfer = "transfer"
	ActionClaim    = "claim"
	ActionClaimAll = "claim_all"
	ActionEarned   = "earned"
	ActionPending  = "pending"
	ActionBalance  = "balance"
	ActionPoke     = "poke"
	ActionAdvance  = "advance"
)

// Scenario is a scripted run. Reward amounts and rates are whole reward tokens
// (18 decimals); share amounts use the pool's own decimals.
type Scenario struct {
	Name      string   `yaml:"name"`
	Start     uint64   `yaml:"start"`
	RewardCap string   `yaml:"reward_cap"`
	Minter    string   `yaml:"minter"`
	Admins    []string `yaml:"admins"`
	Pools     []Pool   `yaml:"pools"`
	Steps     []Step   `yaml:"steps"`
}

// Pool describes a catalogued pool and its vault. Pools are registered with
// the engine at start unless Unregistered is set.
type Pool struct {
	ID           string `yaml:"id"`
	Vault        string `yaml:"vault"`
	Decimals     uint8  `yaml:"decimals"`
	Rate         string `yaml:"rate"`
	Unregistered bool   `yaml:"unregistered"`
}

// Step advances the clock by Advance seconds and then performs Action.
// Want is checked for actions that produce an amount, within Tolerance base
// units. Error, when set, is a substring the action's error must contain.
type Step struct {
	Advance   uint64   `yaml:"advance"`
	Action    string   `yaml:"action"`
	Caller    string   `yaml:"caller"`
	User      string   `yaml:"user"`
	To        string   `yaml:"to"`
	Pool      string   `yaml:"pool"`
	Pools     []string `yaml:"pools"`
	Amount    string   `yaml:"amount"`
	Rate      string   `yaml:"rate"`
	Want      string   `yaml:"want"`
	Tolerance int64    `yaml:"tolerance"`
	Error     string   `yaml:"error"`
}

// Load reads a scenario file.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks the fields every step needs before anything runs.
func (sc Scenario) Validate() error {
	if len(sc.Admins) == 0 {
		return fmt.Errorf("at least one admin is required")
	}
	if len(sc.Pools) == 0 {
		return fmt.Errorf("at least one pool is required")
	}
	for i, p := range sc.Pools {
		if p.ID == "" || p.Vault == "" {
			return fmt.Errorf("pool %d: id and vault are required", i)
		}
	}
	for i, step := range sc.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	need := func(fields ...string) error {
		var missing []string
		for _, f := range fields {
			switch {
			case f == "user" && s.User == "",
				f == "to" && s.To == "",
				f == "pool" && s.Pool == "",
				f == "amount" && s.Amount == "",
				f == "rate" && s.Rate == "":
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing %s", strings.Join(missing, ", "))
		}
		return nil
	}

	switch s.Action {
	case ActionRegister, ActionPoke:
		return need("pool")
	case ActionSetRate:
		return need("pool", "rate")
	case ActionDeposit, ActionWithdraw:
		return need("user", "pool", "amount")
	case ActionTransfer:
		return need("user", "to", "pool", "amount")
	case ActionClaim, ActionEarned:
		return need("user", "pool")
	case ActionClaimAll, ActionPending, ActionBalance:
		return need("user")
	case ActionAdvance:
		return nil
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
}
