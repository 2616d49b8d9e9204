// Package domain holds shared domain primitives: typed entity IDs and the
// enums that cross package boundaries (platform, token, withdrawal kind).
//
// Typed IDs prevent cross-entity assignment at compile time. Construct them
// via the ParseXxxID functions at trust boundaries; direct casting bypasses
// validation and is reserved for code that already holds a valid UUID.
package domain

import (
	"github.com/google/uuid"

	dErrors "redpocket/pkg/domain-errors"
)

type (
	// AccountID identifies a canonical user account.
	AccountID uuid.UUID
	// PoolID identifies a distribution pool.
	PoolID uuid.UUID
	// WithdrawalID identifies a withdrawal request.
	WithdrawalID uuid.UUID
	// MergeID identifies an account merge request.
	MergeID uuid.UUID
)

func (id AccountID) String() string    { return uuid.UUID(id).String() }
func (id PoolID) String() string       { return uuid.UUID(id).String() }
func (id WithdrawalID) String() string { return uuid.UUID(id).String() }
func (id MergeID) String() string      { return uuid.UUID(id).String() }

func (id AccountID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PoolID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id WithdrawalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id MergeID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// The ID types marshal as canonical UUID strings on every wire surface
// (JSON bodies, message payloads). Defined types do not inherit uuid.UUID's
// marshalling, so each implements encoding.TextMarshaler/TextUnmarshaler.

func (id AccountID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id PoolID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id WithdrawalID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id MergeID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }

func (id *AccountID) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *PoolID) UnmarshalText(text []byte) error {
	parsed, err := ParsePoolID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *WithdrawalID) UnmarshalText(text []byte) error {
	parsed, err := ParseWithdrawalID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *MergeID) UnmarshalText(text []byte) error {
	parsed, err := ParseMergeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewAccountID returns a fresh random account ID.
func NewAccountID() AccountID { return AccountID(uuid.New()) }

// NewPoolID returns a fresh random pool ID.
func NewPoolID() PoolID { return PoolID(uuid.New()) }

// NewWithdrawalID returns a fresh random withdrawal ID.
func NewWithdrawalID() WithdrawalID { return WithdrawalID(uuid.New()) }

// NewMergeID returns a fresh random merge request ID.
func NewMergeID() MergeID { return MergeID(uuid.New()) }

// parseUUID enforces the shared ID invariant: valid, non-empty, non-nil.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id cannot be empty", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s id", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id cannot be nil", kind)
	}
	return u, nil
}

// ParseAccountID constructs an AccountID from external input.
func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account")
	return AccountID(u), err
}

// ParsePoolID constructs a PoolID from external input.
func ParsePoolID(s string) (PoolID, error) {
	u, err := parseUUID(s, "pool")
	return PoolID(u), err
}

// ParseWithdrawalID constructs a WithdrawalID from external input.
func ParseWithdrawalID(s string) (WithdrawalID, error) {
	u, err := parseUUID(s, "withdrawal")
	return WithdrawalID(u), err
}

// ParseMergeID constructs a MergeID from external input.
func ParseMergeID(s string) (MergeID, error) {
	u, err := parseUUID(s, "merge")
	return MergeID(u), err
}
