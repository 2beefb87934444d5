// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "time"

// Builder provides a fluent interface for constructing a Parameters value,
// seeded from a preset and adjusted field by field. Errors accumulate and
// surface on Build, so call chains don't need intermediate error checks.
type Builder struct {
	params Parameters
	err    error
}

// NewBuilder returns a Builder seeded from Local, the preset used when the
// caller hasn't chosen an environment yet.
func NewBuilder() *Builder {
	return &Builder{params: Local()}
}

// FromPreset resets the builder's working value to the named preset.
func (b *Builder) FromPreset(preset NetworkType) *Builder {
	if b.err != nil {
		return b
	}
	p, err := ByPreset(preset)
	if err != nil {
		b.err = err
		return b
	}
	b.params = p
	return b
}

// WithByzantineF sets the fault-tolerance assumption f; MinValidators
// (3f+1) follows from it. It does not touch MaxParents.
func (b *Builder) WithByzantineF(f int) *Builder {
	if b.err != nil {
		return b
	}
	if f < 1 {
		b.err = ErrByzantineFTooLow
		return b
	}
	b.params.ByzantineF = f
	return b
}

// WithPhaseTimeouts sets the prepare, commit and view-change timeouts.
func (b *Builder) WithPhaseTimeouts(prepare, commit, viewChange time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if prepare <= 0 || commit <= 0 || viewChange <= 0 {
		b.err = ErrPhaseTimeoutTooLow
		return b
	}
	b.params.PrepareTimeout = prepare
	b.params.CommitTimeout = commit
	b.params.ViewChangeTimeout = viewChange
	return b
}

// WithBatchVerifySize sets the default dispatch size for parallel batch
// signature verification.
func (b *Builder) WithBatchVerifySize(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 1 {
		b.err = ErrBatchVerifySizeTooLow
		return b
	}
	b.params.BatchVerifySize = n
	return b
}

// WithAdaptiveTimeout sets the sliding-window size and p95 multiplier the
// adaptive timeout derives its deadline from, plus the hard bounds it clamps
// to.
func (b *Builder) WithAdaptiveTimeout(window int, k float64, min, max time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if window < 1 {
		b.err = ErrAdaptiveWindowTooLow
		return b
	}
	if k <= 0 {
		b.err = ErrAdaptiveKNonPositive
		return b
	}
	if min > max {
		b.err = ErrAdaptiveBoundsInverted
		return b
	}
	b.params.AdaptiveTimeoutWindow = window
	b.params.AdaptiveTimeoutK = k
	b.params.AdaptiveTimeoutMin = min
	b.params.AdaptiveTimeoutMax = max
	return b
}

// WithByzantineEvidencePolicy sets the reputation penalty applied per
// evidence record and the cumulative count past which a node is banned.
func (b *Builder) WithByzantineEvidencePolicy(penalty float64, banThreshold int) *Builder {
	if b.err != nil {
		return b
	}
	if penalty <= 0 {
		b.err = ErrReputationPenaltyBad
		return b
	}
	if banThreshold < 1 {
		b.err = ErrBanThresholdTooLow
		return b
	}
	b.params.ReputationPenalty = penalty
	b.params.BanThreshold = banThreshold
	return b
}

// WithPruneRetainHeight sets how many recent heights the pruner keeps
// regardless of the finality watermark.
func (b *Builder) WithPruneRetainHeight(heights uint64) *Builder {
	if b.err != nil {
		return b
	}
	b.params.PruneRetainHeight = heights
	return b
}

// Build validates the accumulated Parameters and returns it, or the first
// error recorded by any With* call or by validation.
func (b *Builder) Build() (*Parameters, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := NewValidator().Validate(&b.params); err != nil {
		return nil, err
	}
	out := b.params
	return &out, nil
}
