package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/agora-server/internal/store"
)

func TestAccessGuardCanAccess(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	for id := store.UserID(1); id <= 4; id++ {
		repo.addUser(id)
	}
	repo.setMember(1, 1, store.MembershipAccepted)
	repo.setMember(1, 2, store.MembershipAccepted)
	repo.setMember(1, 3, store.MembershipPending)
	repo.setMember(1, 4, store.MembershipBanned)

	public := repo.addChannel(1, false)
	private := repo.addChannel(1, true)
	repo.setOverlay(private, 1, true)
	repo.setOverlay(private, 3, true)
	dm, _, err := repo.GetOrCreateDirectChannel(ctx, 2, 4)
	require.NoError(t, err)

	guard := NewAccessGuard(repo)
	cases := []struct {
		name    string
		channel store.ChannelID
		user    store.UserID
		want    bool
	}{
		{"accepted member public", public, 1, true},
		{"pending member public", public, 3, false},
		{"banned member public", public, 4, false},
		{"overlay member private", private, 1, true},
		{"accepted without overlay", private, 2, false},
		{"overlay without membership", private, 3, false},
		{"direct participant", dm.ID, 4, true},
		{"direct participant other", dm.ID, 2, true},
		{"direct outsider", dm.ID, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := guard.CanAccess(ctx, tc.channel, tc.user)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAccessGuardErrors(t *testing.T) {
	ctx := context.Background()
	repo, general := communityFixture(1)
	guard := NewAccessGuard(repo)

	_, err := guard.CanAccess(ctx, 999, 1)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = guard.Authorize(ctx, general, 77)
	require.ErrorIs(t, err, ErrAccessDenied)

	repo.membersErr = errStoreDown
	_, err = guard.CanAccess(ctx, general, 1)
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, errStoreDown)
}

func TestAccessGuardReflectsRevocation(t *testing.T) {
	ctx := context.Background()
	repo, general := communityFixture(1)
	guard := NewAccessGuard(repo)

	ok, err := guard.CanAccess(ctx, general, 1)
	require.NoError(t, err)
	require.True(t, ok)

	repo.setMember(1, 1, store.MembershipBanned)
	ok, err = guard.CanAccess(ctx, general, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccessGuardAccessibleChannels(t *testing.T) {
	ctx := context.Background()
	repo, general := communityFixture(2)
	private := repo.addChannel(1, true)
	repo.setOverlay(private, 2, true)
	dm, _, err := repo.GetOrCreateDirectChannel(ctx, 1, 2)
	require.NoError(t, err)

	guard := NewAccessGuard(repo)

	ids, err := guard.AccessibleChannels(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []store.ChannelID{general, dm.ID}, ids)

	ids, err = guard.AccessibleChannels(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []store.ChannelID{general, private, dm.ID}, ids)
}
