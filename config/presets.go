// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "time"

// NetworkType names one of the built-in environment presets.
type NetworkType string

const (
	MainnetNetwork NetworkType = "mainnet"
	TestnetNetwork NetworkType = "testnet"
	LocalNetwork   NetworkType = "local"
)

// Mainnet returns production-tuned parameters: conservative timeouts, a
// larger batch-verify size to amortize signature checking across a big
// validator set, and a wide retain window for pruning.
func Mainnet() Parameters {
	return Parameters{
		ByzantineF:               10,
		MaxParents:               8,
		MaxPayloadBytes:          1 << 20,
		BatchVerifySize:          1000,
		PrepareTimeout:           2 * time.Second,
		CommitTimeout:            2 * time.Second,
		ViewChangeTimeout:        6 * time.Second,
		BreakerFailureThreshold:  5,
		BreakerCoolDown:          30 * time.Second,
		BreakerHalfOpenSuccesses: 3,
		AdaptiveTimeoutWindow:    128,
		AdaptiveTimeoutK:         3.0,
		AdaptiveTimeoutMin:       200 * time.Millisecond,
		AdaptiveTimeoutMax:       10 * time.Second,
		ReputationPenalty:        0.1,
		BanThreshold:             5,
		EquivocationElevatedRate: 0.01,
		ViewChangeElevatedRate:   0.1,
		SuspicionElevatedCount:   3,
		PruneRetainHeight:        10_000,
	}
}

// Testnet returns parameters tuned for a smaller, less adversarial
// validator set with faster finality targets.
func Testnet() Parameters {
	p := Mainnet()
	p.ByzantineF = 3
	p.MaxParents = 4
	p.BatchVerifySize = 200
	p.PrepareTimeout = time.Second
	p.CommitTimeout = time.Second
	p.ViewChangeTimeout = 3 * time.Second
	p.PruneRetainHeight = 2_000
	return p
}

// Local returns parameters tuned for a single-machine, few-node network:
// tight timeouts and a small retain window since there is no real network
// latency to absorb.
func Local() Parameters {
	p := Testnet()
	p.ByzantineF = 1
	p.MaxParents = 2
	p.BatchVerifySize = 16
	p.PrepareTimeout = 100 * time.Millisecond
	p.CommitTimeout = 100 * time.Millisecond
	p.ViewChangeTimeout = 500 * time.Millisecond
	p.BreakerCoolDown = time.Second
	p.AdaptiveTimeoutWindow = 16
	p.AdaptiveTimeoutMin = 10 * time.Millisecond
	p.AdaptiveTimeoutMax = time.Second
	p.PruneRetainHeight = 100
	return p
}

// ByPreset resolves a NetworkType to its Parameters, for config loaded from
// a name rather than a literal struct.
func ByPreset(preset NetworkType) (Parameters, error) {
	switch preset {
	case MainnetNetwork:
		return Mainnet(), nil
	case TestnetNetwork:
		return Testnet(), nil
	case LocalNetwork:
		return Local(), nil
	default:
		return Parameters{}, ErrUnknownPreset
	}
}

// PresetNames returns all available preset names.
func PresetNames() []string {
	return []string{string(MainnetNetwork), string(TestnetNetwork), string(LocalNetwork)}
}
