// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the tunable parameters for one BFT+DAG consensus
// instance and the machinery to build, validate and load them: a fluent
// Builder, Mainnet/Testnet/Local presets, a Validator, and YAML file
// loading for operators who want to hand-tune a deployment.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// yamlFile mirrors Parameters' shape for YAML (un)marshaling. Parameters
// itself carries no struct tags so it stays a plain value type usable
// anywhere in the consensus core without a serialization dependency leaking
// into every caller; this package is the only place that needs the tags.
type yamlFile struct {
	ByzantineF               int     `yaml:"byzantine_f"`
	MaxParents               int     `yaml:"max_parents"`
	MaxPayloadBytes           int     `yaml:"max_payload_bytes"`
	BatchVerifySize           int     `yaml:"batch_verify_size"`
	PrepareTimeout            string  `yaml:"prepare_timeout"`
	CommitTimeout             string  `yaml:"commit_timeout"`
	ViewChangeTimeout         string  `yaml:"view_change_timeout"`
	BreakerFailureThreshold   int     `yaml:"breaker_failure_threshold"`
	BreakerCoolDown           string  `yaml:"breaker_cool_down"`
	BreakerHalfOpenSuccesses  int     `yaml:"breaker_half_open_successes"`
	AdaptiveTimeoutWindow     int     `yaml:"adaptive_timeout_window"`
	AdaptiveTimeoutK          float64 `yaml:"adaptive_timeout_k"`
	AdaptiveTimeoutMin        string  `yaml:"adaptive_timeout_min"`
	AdaptiveTimeoutMax        string  `yaml:"adaptive_timeout_max"`
	ReputationPenalty         float64 `yaml:"reputation_penalty"`
	BanThreshold              int     `yaml:"ban_threshold"`
	EquivocationElevatedRate float64 `yaml:"equivocation_elevated_rate"`
	ViewChangeElevatedRate   float64 `yaml:"view_change_elevated_rate"`
	SuspicionElevatedCount   int     `yaml:"suspicion_elevated_count"`
	PruneRetainHeight        uint64  `yaml:"prune_retain_height"`
}

// LoadFile reads a YAML-encoded Parameters document from path, parses its
// duration fields, and validates the result.
func LoadFile(path string) (*Parameters, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	return Parse(raw)
}

// Parse decodes a YAML-encoded Parameters document from raw and validates
// the result.
func Parse(raw []byte) (*Parameters, error) {
	var f yamlFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}

	p, err := f.toParameters()
	if err != nil {
		return nil, err
	}
	if err := NewValidator().Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *yamlFile) toParameters() (*Parameters, error) {
	prepare, err := parseDuration(f.PrepareTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "config: prepare_timeout")
	}
	commit, err := parseDuration(f.CommitTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "config: commit_timeout")
	}
	viewChange, err := parseDuration(f.ViewChangeTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "config: view_change_timeout")
	}
	coolDown, err := parseDuration(f.BreakerCoolDown)
	if err != nil {
		return nil, errors.Wrap(err, "config: breaker_cool_down")
	}
	adaptiveMin, err := parseDuration(f.AdaptiveTimeoutMin)
	if err != nil {
		return nil, errors.Wrap(err, "config: adaptive_timeout_min")
	}
	adaptiveMax, err := parseDuration(f.AdaptiveTimeoutMax)
	if err != nil {
		return nil, errors.Wrap(err, "config: adaptive_timeout_max")
	}

	return &Parameters{
		ByzantineF:               f.ByzantineF,
		MaxParents:               f.MaxParents,
		MaxPayloadBytes:          f.MaxPayloadBytes,
		BatchVerifySize:          f.BatchVerifySize,
		PrepareTimeout:           prepare,
		CommitTimeout:            commit,
		ViewChangeTimeout:        viewChange,
		BreakerFailureThreshold:  f.BreakerFailureThreshold,
		BreakerCoolDown:          coolDown,
		BreakerHalfOpenSuccesses: f.BreakerHalfOpenSuccesses,
		AdaptiveTimeoutWindow:    f.AdaptiveTimeoutWindow,
		AdaptiveTimeoutK:         f.AdaptiveTimeoutK,
		AdaptiveTimeoutMin:       adaptiveMin,
		AdaptiveTimeoutMax:       adaptiveMax,
		ReputationPenalty:        f.ReputationPenalty,
		BanThreshold:             f.BanThreshold,
		EquivocationElevatedRate: f.EquivocationElevatedRate,
		ViewChangeElevatedRate:   f.ViewChangeElevatedRate,
		SuspicionElevatedCount:   f.SuspicionElevatedCount,
		PruneRetainHeight:        f.PruneRetainHeight,
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
