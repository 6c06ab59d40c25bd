package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/sha3"
)

// IdentityType discriminates the two keys tracked by the engine.
type IdentityType string

const (
	IdentityIP     IdentityType = "ip"
	IdentityWallet IdentityType = "wallet"
)

var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is an IP address or wallet address used as the key for
// rate and ban tracking.
type Identity struct {
	Type  IdentityType
	Value string
}

// Key returns the canonical map/lock key for this identity.
func (i Identity) Key() string {
	return string(i.Type) + ":" + i.Value
}

func (i Identity) IsZero() bool {
	return i.Value == ""
}

func IPIdentity(ip string) Identity {
	return Identity{Type: IdentityIP, Value: ip}
}

func WalletIdentity(wallet string) Identity {
	return Identity{Type: IdentityWallet, Value: wallet}
}

// ParseIdentityType validates the ban_type discriminator used by the
// admin action endpoint.
func ParseIdentityType(raw string) (IdentityType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ip":
		return IdentityIP, nil
	case "wallet":
		return IdentityWallet, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidIdentity, raw)
	}
}

// ParseIdentity validates and normalizes a target before it reaches the
// core. Malformed targets are rejected here and never stored.
func ParseIdentity(typ IdentityType, value string) (Identity, error) {
	switch typ {
	case IdentityIP:
		ip, err := NormalizeIP(value)
		if err != nil {
			return Identity{}, err
		}
		return IPIdentity(ip), nil
	case IdentityWallet:
		wallet, err := NormalizeWallet(value)
		if err != nil {
			return Identity{}, err
		}
		return WalletIdentity(wallet), nil
	default:
		return Identity{}, fmt.Errorf("%w: unknown type %q", ErrInvalidIdentity, typ)
	}
}

// NormalizeIP returns the canonical textual form of an IPv4/IPv6 address.
func NormalizeIP(raw string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return "", fmt.Errorf("%w: %q is not an IP address", ErrInvalidIdentity, raw)
	}
	return ip.String(), nil
}

// NormalizeWallet validates an Ethereum-style wallet address and returns it
// lower-cased. Mixed-case input must carry a valid EIP-55 checksum;
// all-lower and all-upper input is accepted without one.
func NormalizeWallet(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return "", fmt.Errorf("%w: %q is not a wallet address", ErrInvalidIdentity, raw)
	}

	hexPart := addr[2:]
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("%w: %q is not a wallet address", ErrInvalidIdentity, raw)
	}

	lower := strings.ToLower(hexPart)
	if hexPart != lower && hexPart != strings.ToUpper(hexPart) {
		if checksumAddress(lower) != hexPart {
			return "", fmt.Errorf("%w: %q has a bad checksum", ErrInvalidIdentity, raw)
		}
	}

	return "0x" + lower, nil
}

// checksumAddress computes the EIP-55 mixed-case form of a lower-case
// 40-char hex address body.
func checksumAddress(lower string) string {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(lower))
	digest := hash.Sum(nil)

	out := []byte(lower)
	for i := range out {
		if out[i] < 'a' || out[i] > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = out[i] - 'a' + 'A'
		}
	}
	return string(out)
}
