// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

// Validator checks a Parameters value for internal consistency before it is
// handed to an Engine.
type Validator struct{}

// NewValidator returns a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns the first violated constraint found in p, or nil.
func (v *Validator) Validate(p *Parameters) error {
	switch {
	case p.ByzantineF < 1:
		return ErrByzantineFTooLow
	case p.MaxParents < 1:
		return ErrMaxParentsTooLow
	case p.MaxPayloadBytes < 1:
		return ErrMaxPayloadTooLow
	case p.BatchVerifySize < 1:
		return ErrBatchVerifySizeTooLow
	case p.PrepareTimeout <= 0 || p.CommitTimeout <= 0 || p.ViewChangeTimeout <= 0:
		return ErrPhaseTimeoutTooLow
	case p.BreakerFailureThreshold < 1:
		return ErrBreakerThresholdTooLow
	case p.AdaptiveTimeoutWindow < 1:
		return ErrAdaptiveWindowTooLow
	case p.AdaptiveTimeoutK <= 0:
		return ErrAdaptiveKNonPositive
	case p.AdaptiveTimeoutMin > p.AdaptiveTimeoutMax:
		return ErrAdaptiveBoundsInverted
	case p.ReputationPenalty <= 0:
		return ErrReputationPenaltyBad
	case p.BanThreshold < 1:
		return ErrBanThresholdTooLow
	case p.EquivocationElevatedRate <= 0 || p.EquivocationElevatedRate > 1:
		return ErrElevatedRateOutOfRange
	case p.ViewChangeElevatedRate <= 0 || p.ViewChangeElevatedRate > 1:
		return ErrElevatedRateOutOfRange
	default:
		return nil
	}
}

// MinValidators returns the smallest validator-set size able to tolerate
// p.ByzantineF under the classical 3f+1 safety bound.
func (p *Parameters) MinValidators() int {
	return 3*p.ByzantineF + 1
}
