// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncapsulateDecapsulateAgree(t *testing.T) {
	require := require.New(t)

	sk, pk, err := Generate()
	require.NoError(err)

	ct, ssSender, err := Encapsulate(pk)
	require.NoError(err)

	ssReceiver, err := Decapsulate(ct, sk)
	require.NoError(err)

	require.Equal(ssSender, ssReceiver)
}

func TestDecapsulateRejectsTruncatedCiphertext(t *testing.T) {
	require := require.New(t)

	sk, pk, err := Generate()
	require.NoError(err)

	ct, _, err := Encapsulate(pk)
	require.NoError(err)

	_, err = Decapsulate(ct[:len(ct)-1], sk)
	require.ErrorIs(err, ErrMalformedCiphertext)
}

func TestEncapsulateRejectsMalformedPublicKey(t *testing.T) {
	_, _, err := Encapsulate(PublicKey([]byte("not-a-key")))
	require.ErrorIs(t, err, ErrMalformedKey)
}

func TestDecapsulateRejectsMalformedPrivateKey(t *testing.T) {
	_, pk, err := Generate()
	require.NoError(t, err)
	ct, _, err := Encapsulate(pk)
	require.NoError(t, err)

	_, err = Decapsulate(ct, PrivateKey([]byte("not-a-key")))
	require.ErrorIs(t, err, ErrMalformedKey)
}

func TestEncapsulateProducesDistinctSecretsPerCall(t *testing.T) {
	require := require.New(t)

	_, pk, err := Generate()
	require.NoError(err)

	_, ssA, err := Encapsulate(pk)
	require.NoError(err)
	_, ssB, err := Encapsulate(pk)
	require.NoError(err)

	require.NotEqual(ssA, ssB)
}
