package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chanbridge/chanbridge/internal/db"
)

// Users is the channel-user repository.
type Users struct {
	pool *pgxpool.Pool
}

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

const userColumns = `id, platform, platform_user_id, display_name, platform_username,
	avatar_url, backend_user_id, is_verified, is_blocked, verify_method, created_at, updated_at`

// FindOrCreate returns the user for (platform, platform user id), creating it
// on first contact. Display fields are refreshed when the platform supplies
// non-empty values.
func (r *Users) FindOrCreate(ctx context.Context, user ChannelUser) (ChannelUser, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO channel_users (platform, platform_user_id, display_name, platform_username, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, platform_user_id) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), channel_users.display_name),
			platform_username = COALESCE(NULLIF(EXCLUDED.platform_username, ''), channel_users.platform_username),
			avatar_url = COALESCE(NULLIF(EXCLUDED.avatar_url, ''), channel_users.avatar_url),
			updated_at = now()
		RETURNING `+userColumns,
		user.Platform, user.PlatformUserID, user.DisplayName, user.PlatformUsername, user.AvatarURL,
	)
	found, err := scanUser(row)
	if err != nil {
		return ChannelUser{}, fmt.Errorf("find or create channel user: %w", err)
	}
	return found, nil
}

// FindByPlatform returns the user for (platform, platform user id), or
// ErrNotFound.
func (r *Users) FindByPlatform(ctx context.Context, platform, platformUserID string) (ChannelUser, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM channel_users
		WHERE platform = $1 AND platform_user_id = $2`,
		platform, platformUserID,
	)
	found, err := scanUser(row)
	if err == pgx.ErrNoRows {
		return ChannelUser{}, ErrNotFound
	}
	if err != nil {
		return ChannelUser{}, fmt.Errorf("find channel user: %w", err)
	}
	return found, nil
}

// MarkVerified links the user to a backend user id and records the
// verification method.
func (r *Users) MarkVerified(ctx context.Context, id, backendUserID, method string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE channel_users
		SET is_verified = TRUE, backend_user_id = $2, verify_method = $3, updated_at = now()
		WHERE id = $1`,
		id, backendUserID, method,
	)
	if err != nil {
		return fmt.Errorf("mark channel user verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBlocked flips the blocked flag; it reports false when no user matches.
func (r *Users) SetBlocked(ctx context.Context, platform, platformUserID string, blocked bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE channel_users
		SET is_blocked = $3, updated_at = now()
		WHERE platform = $1 AND platform_user_id = $2`,
		platform, platformUserID, blocked,
	)
	if err != nil {
		return false, fmt.Errorf("set channel user blocked: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanUser(row pgx.Row) (ChannelUser, error) {
	var (
		user                                     ChannelUser
		id                                       pgtype.UUID
		displayName, platformUsername, avatarURL pgtype.Text
		backendUserID, verifyMethod              pgtype.Text
		createdAt, updatedAt                     pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &user.Platform, &user.PlatformUserID, &displayName, &platformUsername,
		&avatarURL, &backendUserID, &user.IsVerified, &user.IsBlocked, &verifyMethod,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return ChannelUser{}, err
	}
	user.ID = db.UUIDToString(id)
	user.DisplayName = db.TextToString(displayName)
	user.PlatformUsername = db.TextToString(platformUsername)
	user.AvatarURL = db.TextToString(avatarURL)
	user.BackendUserID = db.TextToString(backendUserID)
	user.VerifyMethod = db.TextToString(verifyMethod)
	user.CreatedAt = db.TimeFromPg(createdAt)
	user.UpdatedAt = db.TimeFromPg(updatedAt)
	return user, nil
}
