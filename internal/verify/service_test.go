package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbridge/chanbridge/internal/store"
)

type fakeUsers struct {
	users    map[string]store.ChannelUser
	verified []string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]store.ChannelUser{}}
}

func key(platform, platformUserID string) string {
	return platform + ":" + platformUserID
}

func (f *fakeUsers) FindOrCreate(ctx context.Context, user store.ChannelUser) (store.ChannelUser, error) {
	k := key(user.Platform, user.PlatformUserID)
	if existing, ok := f.users[k]; ok {
		return existing, nil
	}
	user.ID = "user-" + user.PlatformUserID
	f.users[k] = user
	return user, nil
}

func (f *fakeUsers) FindByPlatform(ctx context.Context, platform, platformUserID string) (store.ChannelUser, error) {
	if user, ok := f.users[key(platform, platformUserID)]; ok {
		return user, nil
	}
	return store.ChannelUser{}, store.ErrNotFound
}

func (f *fakeUsers) MarkVerified(ctx context.Context, id, backendUserID, method string) error {
	for k, user := range f.users {
		if user.ID == id {
			user.IsVerified = true
			user.BackendUserID = backendUserID
			user.VerifyMethod = method
			f.users[k] = user
			f.verified = append(f.verified, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeUsers) SetBlocked(ctx context.Context, platform, platformUserID string, blocked bool) (bool, error) {
	k := key(platform, platformUserID)
	user, ok := f.users[k]
	if !ok {
		return false, nil
	}
	user.IsBlocked = blocked
	f.users[k] = user
	return true, nil
}

func TestResolveTTL_ConfiguredDefault(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, newFakeUsers(), nil, 30*time.Minute)
	assert.Equal(t, 30*time.Minute, svc.resolveTTL(0), "configured default must apply when the caller gives no TTL")
	assert.Equal(t, 5*time.Minute, svc.resolveTTL(5*time.Minute), "an explicit request wins over the configured default")

	unconfigured := NewService(nil, nil, newFakeUsers(), nil, 0)
	assert.Equal(t, fallbackTTL, unconfigured.resolveTTL(0))
}

func TestCheckWhitelist_EmptyAllowsAll(t *testing.T) {
	t.Parallel()
	if !CheckWhitelist(nil, "anyone") {
		t.Fatalf("empty whitelist should allow all")
	}
	if !CheckWhitelist([]string{}, "anyone") {
		t.Fatalf("empty whitelist should allow all")
	}
}

func TestCheckWhitelist_Membership(t *testing.T) {
	t.Parallel()
	allowed := []string{"alice", " bob "}
	assert.True(t, CheckWhitelist(allowed, "alice"))
	assert.True(t, CheckWhitelist(allowed, "bob"))
	assert.False(t, CheckWhitelist(allowed, "carol"))
}

func TestVerifyViaWhitelist_Idempotent(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()
	svc := NewService(nil, nil, users, nil, 0)

	user, err := svc.VerifyViaWhitelist(context.Background(), "telegram", "alice", "Alice", "")
	require.NoError(t, err)
	assert.True(t, user.IsVerified)
	assert.Equal(t, DefaultBackendUserID, user.BackendUserID)
	assert.Equal(t, MethodWhitelist, user.VerifyMethod)

	again, err := svc.VerifyViaWhitelist(context.Background(), "telegram", "alice", "Alice", "")
	require.NoError(t, err)
	assert.True(t, again.IsVerified)
	assert.Len(t, users.verified, 1, "second call must not re-verify")
}

func TestIsVerified(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()
	svc := NewService(nil, nil, users, nil, 0)
	ctx := context.Background()

	if svc.IsVerified(ctx, "telegram", "ghost") {
		t.Fatalf("unknown user must not be verified")
	}

	_, err := svc.VerifyViaWhitelist(ctx, "telegram", "alice", "Alice", "backend-1")
	require.NoError(t, err)
	assert.True(t, svc.IsVerified(ctx, "telegram", "alice"))

	ok, err := svc.BlockUser(ctx, "telegram", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, svc.IsVerified(ctx, "telegram", "alice"), "blocked user must not count as verified")
}

func TestResolveUser(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()
	svc := NewService(nil, nil, users, nil, 0)
	ctx := context.Background()

	assert.Empty(t, svc.ResolveUser(ctx, "telegram", "ghost"))

	_, err := svc.VerifyViaWhitelist(ctx, "telegram", "alice", "Alice", "backend-1")
	require.NoError(t, err)
	assert.Equal(t, "backend-1", svc.ResolveUser(ctx, "telegram", "alice"))

	_, err = svc.BlockUser(ctx, "telegram", "alice")
	require.NoError(t, err)
	assert.Empty(t, svc.ResolveUser(ctx, "telegram", "alice"))
}

func TestBlockUser_Unknown(t *testing.T) {
	t.Parallel()
	svc := NewService(nil, nil, newFakeUsers(), nil, 0)
	ok, err := svc.BlockUser(context.Background(), "telegram", "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}
