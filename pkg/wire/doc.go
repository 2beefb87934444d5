// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

/*
Package wire defines the signed message envelopes exchanged between BFT
replicas: PrePrepare, Prepare, Commit, ViewChange and NewView. Each carries
a content-addressed id over its own fields (domain-separated BLAKE3,
following the same H(domain || payload) shape the teacher's sequencer
stack used for its Candidate type) and an ML-DSA-87 detached signature
over that id.

# Phases

	PrePrepare  — leader L(v) proposes a vertex for (view, sequence)
	Prepare     — replica attests it has seen and validated the proposal
	Commit      — replica attests a weighted quorum of Prepares exists
	ViewChange  — replica requests a leader change, carrying prepared proof
	NewView     — new leader justifies the change and re-proposes

Every envelope type implements Sign and Verify against its own domain tag,
so a signature produced for one message kind can never be replayed as
another.
*/
package wire
