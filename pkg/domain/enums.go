package domain

import (
	"strings"

	dErrors "redpocket/pkg/domain-errors"
)

// Platform is the external social platform an identity originates from.
// Invariant: the value must be one of the supported platforms.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
	PlatformTwitter  Platform = "twitter"
)

// validPlatforms is the single source of truth for supported platforms.
var validPlatforms = map[Platform]bool{
	PlatformTelegram: true,
	PlatformDiscord:  true,
	PlatformTwitter:  true,
}

// ParsePlatform constructs a Platform from external input. Call from
// handlers/adapters when parsing requests.
func ParsePlatform(s string) (Platform, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "platform cannot be empty")
	}
	p := Platform(strings.ToLower(s))
	if !validPlatforms[p] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported platform: %s", s)
	}
	return p, nil
}

func (p Platform) IsValid() bool { return validPlatforms[p] }
func (p Platform) String() string {
	return string(p)
}

// Token is an asset symbol ("USDT", "ETH"). Symbols are uppercased at parse
// time so map keys stay canonical across the ledger and pool stores.
type Token string

// ParseToken validates and canonicalizes a token symbol.
func ParseToken(s string) (Token, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token cannot be empty")
	}
	if len(s) > 16 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token symbol too long")
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", dErrors.New(dErrors.CodeInvalidInput, "token symbol must be alphanumeric")
		}
	}
	return Token(strings.ToUpper(s)), nil
}

func (t Token) String() string { return string(t) }

// WithdrawalKind selects the fee policy and settlement route for a
// withdrawal request.
type WithdrawalKind string

const (
	// WithdrawalWallet settles on-chain to an external wallet address.
	WithdrawalWallet WithdrawalKind = "wallet"
	// WithdrawalFiat settles through an off-ramp provider.
	WithdrawalFiat WithdrawalKind = "fiat"
	// WithdrawalInternal moves funds between accounts inside the ledger.
	WithdrawalInternal WithdrawalKind = "internal"
)

var validWithdrawalKinds = map[WithdrawalKind]bool{
	WithdrawalWallet:   true,
	WithdrawalFiat:     true,
	WithdrawalInternal: true,
}

// ParseWithdrawalKind constructs a WithdrawalKind from external input.
func ParseWithdrawalKind(s string) (WithdrawalKind, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "withdrawal kind cannot be empty")
	}
	k := WithdrawalKind(strings.ToLower(s))
	if !validWithdrawalKinds[k] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported withdrawal kind: %s", s)
	}
	return k, nil
}

func (k WithdrawalKind) IsValid() bool  { return validWithdrawalKinds[k] }
func (k WithdrawalKind) String() string { return string(k) }
