package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/persistence"
)

// ProfileRepository stores the role attached to each user.
type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Profile, error)
	// CreateIfAbsent inserts role unless a profile exists, returning the stored profile.
	CreateIfAbsent(ctx context.Context, userID string, role domain.Role) (*domain.Profile, error)
	SetRole(ctx context.Context, userID string, role domain.Role) error
}

type profileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a Postgres-backed implementation.
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepository{pool: pool}
}

func (r *profileRepository) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	const query = `SELECT user_id, role FROM profiles WHERE user_id=$1`

	var profile domain.Profile
	if err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query, userID).Scan(&profile.UserID, &profile.Role); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepository) CreateIfAbsent(ctx context.Context, userID string, role domain.Role) (*domain.Profile, error) {
	const insert = `INSERT INTO profiles (user_id, role) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`

	if _, err := persistence.Conn(ctx, r.pool).Exec(ctx, insert, userID, role); err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, userID)
}

func (r *profileRepository) SetRole(ctx context.Context, userID string, role domain.Role) error {
	const query = `
        INSERT INTO profiles (user_id, role) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role`

	_, err := persistence.Conn(ctx, r.pool).Exec(ctx, query, userID, role)
	return err
}

const roleCachePrefix = "helpdesk:role:"

type cachedProfileRepository struct {
	inner  ProfileRepository
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedProfileRepository fronts inner with a Redis cache of resolved roles.
// Cache failures fall through to inner.
func NewCachedProfileRepository(inner ProfileRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) ProfileRepository {
	if client == nil {
		return inner
	}
	return &cachedProfileRepository{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (r *cachedProfileRepository) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	cached, err := r.client.Get(ctx, roleCachePrefix+userID).Result()
	if err == nil {
		if role, ok := domain.ParseRole(cached); ok {
			return &domain.Profile{UserID: userID, Role: role}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn("role cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	profile, err := r.inner.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, profile)
	return profile, nil
}

func (r *cachedProfileRepository) CreateIfAbsent(ctx context.Context, userID string, role domain.Role) (*domain.Profile, error) {
	profile, err := r.inner.CreateIfAbsent(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	r.store(ctx, profile)
	return profile, nil
}

func (r *cachedProfileRepository) SetRole(ctx context.Context, userID string, role domain.Role) error {
	if err := r.inner.SetRole(ctx, userID, role); err != nil {
		return err
	}
	if err := r.client.Del(ctx, roleCachePrefix+userID).Err(); err != nil {
		r.logger.Warn("role cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

func (r *cachedProfileRepository) store(ctx context.Context, profile *domain.Profile) {
	if err := r.client.Set(ctx, roleCachePrefix+profile.UserID, string(profile.Role), r.ttl).Err(); err != nil {
		r.logger.Warn("role cache write failed", zap.String("user_id", profile.UserID), zap.Error(err))
	}
}
