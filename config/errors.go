// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "github.com/cockroachdb/errors"

// Validation errors returned by Validator.Validate and Builder.Build.
var (
	ErrByzantineFTooLow        = errors.New("config: byzantine f must be at least 1")
	ErrMaxParentsTooLow        = errors.New("config: max parents must be at least 1")
	ErrMaxPayloadTooLow        = errors.New("config: max payload bytes must be at least 1")
	ErrBatchVerifySizeTooLow   = errors.New("config: batch verify size must be at least 1")
	ErrPhaseTimeoutTooLow      = errors.New("config: phase timeout must be positive")
	ErrBreakerThresholdTooLow  = errors.New("config: breaker failure threshold must be at least 1")
	ErrAdaptiveWindowTooLow    = errors.New("config: adaptive timeout window must be at least 1")
	ErrAdaptiveKNonPositive    = errors.New("config: adaptive timeout k must be positive")
	ErrAdaptiveBoundsInverted  = errors.New("config: adaptive timeout min must not exceed max")
	ErrReputationPenaltyBad    = errors.New("config: reputation penalty must be positive")
	ErrBanThresholdTooLow      = errors.New("config: ban threshold must be at least 1")
	ErrElevatedRateOutOfRange  = errors.New("config: elevated rate must be in (0, 1]")
	ErrUnknownPreset           = errors.New("config: unknown preset name")
)
