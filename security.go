// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"crypto/des" // #nosec G502 - DES is required by the VNC protocol (RFC 6143)
	"fmt"
	"math/bits"
)

// VNC security constants.
const (
	VNCChallengeSize     = 16
	DESKeySize           = 8
	VNCMaxPasswordLength = 8
)

// encryptVNCChallenge encrypts a 16-byte VNC authentication challenge with
// DES as specified in RFC 6143 section 7.2.2. The key is the password
// truncated to 8 bytes and zero padded, with the bits of each byte reversed.
// DES is cryptographically obsolete; it is used here only because the
// protocol requires it.
func encryptVNCChallenge(password string, challenge []byte) ([]byte, error) {
	if len(challenge) != VNCChallengeSize {
		return nil, validationError("encryptVNCChallenge",
			fmt.Sprintf("challenge must be exactly %d bytes, got %d", VNCChallengeSize, len(challenge)), nil)
	}

	key := make([]byte, DESKeySize)
	for i := 0; i < DESKeySize && i < len(password); i++ {
		key[i] = bits.Reverse8(password[i])
	}

	block, err := des.NewCipher(key) // #nosec G405 - required by RFC 6143
	if err != nil {
		return nil, authenticationError("encryptVNCChallenge", "failed to create DES cipher", err)
	}

	response := make([]byte, VNCChallengeSize)
	block.Encrypt(response[:DESKeySize], challenge[:DESKeySize])
	block.Encrypt(response[DESKeySize:], challenge[DESKeySize:])

	return response, nil
}
