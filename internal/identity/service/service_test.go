package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redpocket/internal/identity/store"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

type fakeDeriver struct{}

func (fakeDeriver) Derive(platform id.Platform, platformID string) (string, error) {
	return fmt.Sprintf("0x%s:%s", platform, platformID), nil
}

func newResolver() *Resolver {
	return NewResolver(store.NewInMemory(), fakeDeriver{})
}

func TestResolve_CreatesOnFirstContact(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	account, err := r.Resolve(ctx, id.PlatformTelegram, "12345", "alice")
	require.NoError(t, err)
	assert.False(t, account.ID.IsNil())
	assert.Equal(t, "0xtelegram:12345", account.PrimaryWalletAddress)
	require.Len(t, account.Identities, 1)
	assert.Equal(t, id.PlatformTelegram, account.Identities[0].Platform)
}

func TestResolve_Idempotent(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	first, err := r.Resolve(ctx, id.PlatformTelegram, "12345", "alice")
	require.NoError(t, err)
	second, err := r.Resolve(ctx, id.PlatformTelegram, "12345", "alice renamed")
	require.NoError(t, err)

	// Same identity, same account, same wallet, regardless of display name.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.PrimaryWalletAddress, second.PrimaryWalletAddress)
}

func TestResolve_DistinctPerPlatform(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	tg, err := r.Resolve(ctx, id.PlatformTelegram, "12345", "")
	require.NoError(t, err)
	dc, err := r.Resolve(ctx, id.PlatformDiscord, "12345", "")
	require.NoError(t, err)

	// Same external id on different platforms is a different identity.
	assert.NotEqual(t, tg.ID, dc.ID)
}

func TestResolve_Validation(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	_, err := r.Resolve(ctx, id.PlatformTelegram, "   ", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = r.Resolve(ctx, "myspace", "12345", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestResolve_ConcurrentFirstContactConverges(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	const racers = 20
	ids := make(chan id.AccountID, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account, err := r.Resolve(ctx, id.PlatformTwitter, "race", "")
			assert.NoError(t, err)
			ids <- account.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[id.AccountID]bool)
	for accountID := range ids {
		seen[accountID] = true
	}
	assert.Len(t, seen, 1)
}

func TestLink_AddsIdentity(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	account, err := r.Resolve(ctx, id.PlatformTelegram, "12345", "alice")
	require.NoError(t, err)

	linked, err := r.Link(ctx, account.ID, id.PlatformDiscord, "67890", "alice#1")
	require.NoError(t, err)
	assert.Len(t, linked.Identities, 2)

	// The discord identity now resolves to the same account.
	resolved, err := r.Resolve(ctx, id.PlatformDiscord, "67890", "")
	require.NoError(t, err)
	assert.Equal(t, account.ID, resolved.ID)
}

func TestLink_ConflictWhenBoundElsewhere(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	a, err := r.Resolve(ctx, id.PlatformTelegram, "12345", "")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, id.PlatformDiscord, "67890", "")
	require.NoError(t, err)

	_, err = r.Link(ctx, a.ID, id.PlatformDiscord, "67890", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIdentityConflict))
}

func TestLink_SameBindingIsNoop(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	account, err := r.Resolve(ctx, id.PlatformTelegram, "12345", "")
	require.NoError(t, err)

	linked, err := r.Link(ctx, account.ID, id.PlatformTelegram, "12345", "")
	require.NoError(t, err)
	assert.Len(t, linked.Identities, 1)
}

func TestLink_UnknownAccount(t *testing.T) {
	r := newResolver()

	_, err := r.Link(context.Background(), id.NewAccountID(), id.PlatformTelegram, "12345", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}
