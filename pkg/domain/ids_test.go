package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "redpocket/pkg/domain-errors"
)

// TestParseAccountID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs".
func TestParseAccountID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseAccountID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseAccountID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseAccountID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseAccountID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, AccountID(valid), id)
	})
}

// TestParseID_SecurityInvariants validates trust-boundary parsing rules
// shared by all ID types.
func TestParseID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE accounts;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errPool := ParsePoolID(tt.input)
			_, errWithdrawal := ParseWithdrawalID(tt.input)
			_, errMerge := ParseMergeID(tt.input)
			if tt.wantErr {
				assert.Error(t, errPool)
				assert.Error(t, errWithdrawal)
				assert.Error(t, errMerge)
			} else {
				assert.NoError(t, errPool)
				assert.NoError(t, errWithdrawal)
				assert.NoError(t, errMerge)
			}
		})
	}
}

// TestIDJSONEncoding validates that IDs cross the wire as canonical UUID
// strings, not raw byte arrays, in both directions.
func TestIDJSONEncoding(t *testing.T) {
	t.Run("marshals as UUID string", func(t *testing.T) {
		payload := struct {
			Account    AccountID    `json:"account"`
			Pool       PoolID       `json:"pool"`
			Withdrawal WithdrawalID `json:"withdrawal"`
			Merge      MergeID      `json:"merge"`
		}{NewAccountID(), NewPoolID(), NewWithdrawalID(), NewMergeID()}

		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		var decoded map[string]string
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, payload.Account.String(), decoded["account"])
		assert.Equal(t, payload.Pool.String(), decoded["pool"])
		assert.Equal(t, payload.Withdrawal.String(), decoded["withdrawal"])
		assert.Equal(t, payload.Merge.String(), decoded["merge"])
	})

	t.Run("round trips", func(t *testing.T) {
		original := NewPoolID()
		raw, err := json.Marshal(original)
		require.NoError(t, err)

		var restored PoolID
		require.NoError(t, json.Unmarshal(raw, &restored))
		assert.Equal(t, original, restored)
	})

	t.Run("rejects invalid text", func(t *testing.T) {
		var accountID AccountID
		assert.Error(t, json.Unmarshal([]byte(`"not-a-uuid"`), &accountID))
		assert.Error(t, json.Unmarshal([]byte(`"`+uuid.Nil.String()+`"`), &accountID))
	})
}

func TestParsePlatform(t *testing.T) {
	t.Run("accepts known platforms case-insensitively", func(t *testing.T) {
		for _, s := range []string{"telegram", "Discord", "TWITTER"} {
			p, err := ParsePlatform(s)
			require.NoError(t, err)
			assert.True(t, p.IsValid())
		}
	})

	t.Run("rejects unknown platform", func(t *testing.T) {
		_, err := ParsePlatform("myspace")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ParsePlatform("")
		require.Error(t, err)
	})
}

func TestParseToken(t *testing.T) {
	t.Run("canonicalizes to upper case", func(t *testing.T) {
		tok, err := ParseToken("usdt")
		require.NoError(t, err)
		assert.Equal(t, Token("USDT"), tok)
	})

	t.Run("rejects non-alphanumeric symbols", func(t *testing.T) {
		for _, s := range []string{"", "US DT", "usdt;", strings.Repeat("A", 17)} {
			_, err := ParseToken(s)
			assert.Error(t, err, "input %q", s)
		}
	})
}

func TestParseWithdrawalKind(t *testing.T) {
	for _, s := range []string{"wallet", "fiat", "internal"} {
		k, err := ParseWithdrawalKind(s)
		require.NoError(t, err)
		assert.True(t, k.IsValid())
	}

	_, err := ParseWithdrawalKind("carrier-pigeon")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
