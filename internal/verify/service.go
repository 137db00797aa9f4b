package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chanbridge/chanbridge/internal/db"
	"github.com/chanbridge/chanbridge/internal/event"
	"github.com/chanbridge/chanbridge/internal/store"
)

const (
	fallbackTTL     = 15 * time.Minute
	maxTokenRetries = 5
)

// UserStore is the channel-user persistence the service depends on.
type UserStore interface {
	FindOrCreate(ctx context.Context, user store.ChannelUser) (store.ChannelUser, error)
	FindByPlatform(ctx context.Context, platform, platformUserID string) (store.ChannelUser, error)
	MarkVerified(ctx context.Context, id, backendUserID, method string) error
	SetBlocked(ctx context.Context, platform, platformUserID string, blocked bool) (bool, error)
}

// Service manages verification token lifecycle and identity resolution.
type Service struct {
	pool     *pgxpool.Pool
	users    UserStore
	events   *event.Hub
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewService creates a verification service. The hub may be nil. tokenTTL is
// the configured default lifetime for generated tokens; zero falls back to the
// built-in default.
func NewService(log *slog.Logger, pool *pgxpool.Pool, users UserStore, events *event.Hub, tokenTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:     pool,
		users:    users,
		events:   events,
		tokenTTL: tokenTTL,
		logger:   log.With(slog.String("service", "verify")),
	}
}

// resolveTTL picks the effective token lifetime: the caller's request wins,
// then the configured default, then the built-in fallback.
func (s *Service) resolveTTL(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if s.tokenTTL > 0 {
		return s.tokenTTL
	}
	return fallbackTTL
}

// GenerateToken issues a random one-time token for a backend user, optionally
// scoped to one platform.
func (s *Service) GenerateToken(ctx context.Context, backendUserID string, opts TokenOptions) (Token, error) {
	backendUserID = strings.TrimSpace(backendUserID)
	if backendUserID == "" {
		return Token{}, errors.New("backend user id is required")
	}
	ttl := s.resolveTTL(opts.TTL)
	tokenType := strings.TrimSpace(opts.Type)
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	platform := normalizePlatform(opts.Platform)
	expiresAt := time.Now().UTC().Add(ttl)

	for i := 0; i < maxTokenRetries; i++ {
		raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		var id pgtype.UUID
		var createdAt pgtype.Timestamptz
		err := s.pool.QueryRow(ctx, `
			INSERT INTO verification_tokens (token, backend_user_id, platform, token_type, expires_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5)
			RETURNING id, created_at`,
			raw, backendUserID, platform, tokenType, expiresAt,
		).Scan(&id, &createdAt)
		if err == nil {
			return Token{
				ID:            db.UUIDToString(id),
				Token:         raw,
				BackendUserID: backendUserID,
				Platform:      platform,
				Type:          tokenType,
				ExpiresAt:     expiresAt,
				CreatedAt:     db.TimeFromPg(createdAt),
			}, nil
		}
		if db.IsUniqueViolation(err) {
			continue
		}
		return Token{}, fmt.Errorf("create verification token: %w", err)
	}
	return Token{}, errors.New("create verification token: token collision after retries")
}

// GetToken looks a token up by its raw value, consumed or not. It returns
// ErrTokenNotFound when no such token exists.
func (s *Service) GetToken(ctx context.Context, raw string) (Token, error) {
	var (
		id, consumedBy        pgtype.UUID
		platform              pgtype.Text
		expiresAt, consumedAt pgtype.Timestamptz
		createdAt             pgtype.Timestamptz
		out                   Token
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, token, backend_user_id, platform, token_type, expires_at, consumed_by, consumed_at, created_at
		FROM verification_tokens
		WHERE token = $1`,
		strings.TrimSpace(raw),
	).Scan(&id, &out.Token, &out.BackendUserID, &platform, &out.Type, &expiresAt, &consumedBy, &consumedAt, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrTokenNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("get verification token: %w", err)
	}
	out.ID = db.UUIDToString(id)
	out.Platform = db.TextToString(platform)
	out.ExpiresAt = db.TimeFromPg(expiresAt)
	out.ConsumedBy = db.UUIDToString(consumedBy)
	out.ConsumedAt = db.TimeFromPg(consumedAt)
	out.CreatedAt = db.TimeFromPg(createdAt)
	return out, nil
}

// VerifyToken redeems a one-time token for the given platform identity. The
// matching read and the consume write share one transaction, so a token can
// never be redeemed twice. Failure is reported in the Result, never retried.
func (s *Service) VerifyToken(ctx context.Context, token, platform, platformUserID, displayName, platformUsername string) Result {
	token = strings.TrimSpace(token)
	platform = normalizePlatform(platform)
	if token == "" || platform == "" || strings.TrimSpace(platformUserID) == "" {
		return Result{Success: false, Error: FailureReply}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		s.logger.Error("begin verify tx", slog.String("error", err.Error()))
		return Result{Success: false, Error: FailureReply}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tokenID pgtype.UUID
	var backendUserID string
	err = tx.QueryRow(ctx, `
		SELECT id, backend_user_id
		FROM verification_tokens
		WHERE token = $1
		  AND consumed_at IS NULL
		  AND expires_at > now()
		  AND (platform IS NULL OR platform = $2)
		FOR UPDATE`,
		token, platform,
	).Scan(&tokenID, &backendUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrTokenNotFound
	}
	if err != nil {
		if !errors.Is(err, ErrTokenNotFound) {
			s.logger.Error("lock verification token", slog.String("error", err.Error()))
		}
		return Result{Success: false, Error: FailureReply}
	}

	// Creating the (still unverified) user row outside the transaction is
	// harmless; it must exist before the consume write references it.
	user, err := s.users.FindOrCreate(ctx, store.ChannelUser{
		Platform:         platform,
		PlatformUserID:   platformUserID,
		DisplayName:      displayName,
		PlatformUsername: platformUsername,
	})
	if err != nil {
		s.logger.Error("find or create user for token", slog.String("error", err.Error()))
		return Result{Success: false, Error: FailureReply}
	}
	userID, err := db.ParseUUID(user.ID)
	if err != nil {
		return Result{Success: false, Error: FailureReply}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE verification_tokens
		SET consumed_by = $2, consumed_at = now()
		WHERE id = $1 AND consumed_at IS NULL`,
		tokenID, userID,
	); err != nil {
		s.logger.Error("consume verification token", slog.String("error", err.Error()))
		return Result{Success: false, Error: FailureReply}
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("commit verify tx", slog.String("error", err.Error()))
		return Result{Success: false, Error: FailureReply}
	}

	// The user is marked verified only after the token is irrevocably
	// consumed, never the other way around.
	if err := s.users.MarkVerified(ctx, user.ID, backendUserID, MethodPin); err != nil {
		s.logger.Error("mark user verified", slog.String("error", err.Error()))
		return Result{Success: false, Error: FailureReply}
	}

	s.events.Emit(event.Event{
		Type: event.TypeUserVerified,
		Data: map[string]any{
			"platform":         platform,
			"platform_user_id": platformUserID,
			"backend_user_id":  backendUserID,
			"method":           MethodPin,
		},
	})
	s.logger.Info("verification token consumed",
		slog.String("platform", platform),
		slog.String("platform_user_id", platformUserID),
		slog.String("backend_user_id", backendUserID),
	)
	return Result{Success: true, BackendUserID: backendUserID}
}

// IsVerified reports whether a matching user exists, is verified, and is not
// blocked.
func (s *Service) IsVerified(ctx context.Context, platform, platformUserID string) bool {
	user, err := s.users.FindByPlatform(ctx, normalizePlatform(platform), platformUserID)
	if err != nil {
		return false
	}
	return user.IsVerified && !user.IsBlocked
}

// CheckWhitelist reports whether a platform user id passes the allow list.
// An empty list allows everyone.
func CheckWhitelist(allowed []string, platformUserID string) bool {
	if len(allowed) == 0 {
		return true
	}
	platformUserID = strings.TrimSpace(platformUserID)
	for _, entry := range allowed {
		if strings.TrimSpace(entry) == platformUserID {
			return true
		}
	}
	return false
}

// VerifyViaWhitelist find-or-creates the user and marks it verified with the
// whitelist method. Already-verified users pass through unchanged.
func (s *Service) VerifyViaWhitelist(ctx context.Context, platform, platformUserID, displayName, backendUserID string) (store.ChannelUser, error) {
	platform = normalizePlatform(platform)
	if strings.TrimSpace(backendUserID) == "" {
		backendUserID = DefaultBackendUserID
	}
	user, err := s.users.FindOrCreate(ctx, store.ChannelUser{
		Platform:       platform,
		PlatformUserID: platformUserID,
		DisplayName:    displayName,
	})
	if err != nil {
		return store.ChannelUser{}, fmt.Errorf("whitelist find or create: %w", err)
	}
	if user.IsVerified {
		return user, nil
	}
	if err := s.users.MarkVerified(ctx, user.ID, backendUserID, MethodWhitelist); err != nil {
		return store.ChannelUser{}, fmt.Errorf("whitelist mark verified: %w", err)
	}
	user.IsVerified = true
	user.BackendUserID = backendUserID
	user.VerifyMethod = MethodWhitelist

	s.events.Emit(event.Event{
		Type: event.TypeUserVerified,
		Data: map[string]any{
			"platform":         platform,
			"platform_user_id": platformUserID,
			"backend_user_id":  backendUserID,
			"method":           MethodWhitelist,
		},
	})
	return user, nil
}

// ResolveUser returns the backend user id for a verified, non-blocked
// platform identity, or "" when there is none.
func (s *Service) ResolveUser(ctx context.Context, platform, platformUserID string) string {
	user, err := s.users.FindByPlatform(ctx, normalizePlatform(platform), platformUserID)
	if err != nil {
		return ""
	}
	if !user.IsVerified || user.IsBlocked {
		return ""
	}
	return user.BackendUserID
}

// BlockUser blocks a platform identity; it reports false when no user exists.
func (s *Service) BlockUser(ctx context.Context, platform, platformUserID string) (bool, error) {
	return s.users.SetBlocked(ctx, normalizePlatform(platform), platformUserID, true)
}

// UnblockUser clears the blocked flag; it reports false when no user exists.
func (s *Service) UnblockUser(ctx context.Context, platform, platformUserID string) (bool, error) {
	return s.users.SetBlocked(ctx, normalizePlatform(platform), platformUserID, false)
}

// Cleanup deletes expired, unconsumed tokens and returns the count removed.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM verification_tokens
		WHERE consumed_at IS NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup verification tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func normalizePlatform(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
