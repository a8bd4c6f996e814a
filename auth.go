// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"io"
	"net"
)

// Security type identifiers from RFC 6143 section 7.1.2.
const (
	SecurityTypeInvalid uint8 = 0
	SecurityTypeNone    uint8 = 1
	SecurityTypeVNCAuth uint8 = 2
)

// ClientAuth defines the interface for VNC authentication methods.
type ClientAuth interface {
	SecurityType() uint8
	Handshake(ctx context.Context, conn net.Conn) error
	String() string
}

// ClientAuthNone implements the "None" authentication method (security type 1).
type ClientAuthNone struct{}

// SecurityType returns the security type identifier for None authentication.
func (c *ClientAuthNone) SecurityType() uint8 {
	return SecurityTypeNone
}

// Handshake performs the None authentication handshake, which exchanges no data.
func (c *ClientAuthNone) Handshake(ctx context.Context, conn net.Conn) error {
	select {
	case <-ctx.Done():
		return timeoutError("ClientAuthNone.Handshake", "authentication cancelled", ctx.Err())
	default:
	}
	return nil
}

// String returns a human-readable description of the authentication method.
func (c *ClientAuthNone) String() string {
	return "None"
}

// PasswordAuth implements VNC Authentication (security type 2): the server
// sends a 16-byte challenge and the client replies with the challenge
// DES-encrypted under the password.
type PasswordAuth struct {
	Password string
}

// SecurityType returns the security type identifier for VNC Authentication.
func (p *PasswordAuth) SecurityType() uint8 {
	return SecurityTypeVNCAuth
}

// Handshake performs the VNC Authentication challenge/response exchange.
func (p *PasswordAuth) Handshake(ctx context.Context, c net.Conn) error {
	select {
	case <-ctx.Done():
		return timeoutError("PasswordAuth.Handshake", "authentication cancelled", ctx.Err())
	default:
	}

	if p.Password == "" {
		return configurationError("PasswordAuth.Handshake",
			"VNC authentication requires a non-empty password", nil)
	}

	challenge := make([]byte, VNCChallengeSize)
	if _, err := io.ReadFull(c, challenge); err != nil {
		return networkError("PasswordAuth.Handshake", "failed to read authentication challenge", err)
	}

	response, err := encryptVNCChallenge(p.Password, challenge)
	if err != nil {
		return authenticationError("PasswordAuth.Handshake", "failed to encrypt challenge", err)
	}

	if _, err := c.Write(response); err != nil {
		return networkError("PasswordAuth.Handshake", "failed to send challenge response", err)
	}

	return nil
}

// String returns a human-readable description of the authentication method.
func (p *PasswordAuth) String() string {
	return "VNC Password"
}
