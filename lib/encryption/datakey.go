// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import "fmt"

// dataKeyEnvelopeVersion prefixes a sealed data key on the wire.
const dataKeyEnvelopeVersion byte = 0x00

// SealDataKey wraps a session or machine data key to the account's
// content public key: 0x00 || SealBox(dataKey).
func (e *Engine) SealDataKey(dataKey, contentPublicKey []byte) ([]byte, error) {
	if err := checkKey(dataKey); err != nil {
		return nil, err
	}
	sealed, err := e.SealBox(dataKey, contentPublicKey)
	if err != nil {
		return nil, err
	}
	return append([]byte{dataKeyEnvelopeVersion}, sealed...), nil
}

// OpenDataKey unwraps an envelope produced by SealDataKey.
func OpenDataKey(envelope, contentSecretKey []byte) ([]byte, error) {
	if len(envelope) == 0 {
		return nil, fmt.Errorf("%w: empty data key envelope", ErrDecryptionFailed)
	}
	if envelope[0] != dataKeyEnvelopeVersion {
		return nil, fmt.Errorf("%w: data key envelope 0x%02x", ErrUnknownBundleVersion, envelope[0])
	}
	dataKey, err := OpenBox(envelope[1:], contentSecretKey)
	if err != nil {
		return nil, err
	}
	if len(dataKey) != KeySize {
		clear(dataKey)
		return nil, fmt.Errorf("%w: data key is %d bytes", ErrDecryptionFailed, len(dataKey))
	}
	return dataKey, nil
}
