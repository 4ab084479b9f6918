package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vishalthakur2004/Trendly-sub000/internal/database"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/constants"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/push"
)

// PushTokenRepository stores device push tokens in Redis.
// Keys: call:push:token:{token} holds the serialized token,
// call:push:user:{userID}:tokens indexes a user's tokens.
type PushTokenRepository struct {
	client *database.RedisClient
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(token string) string {
	return fmt.Sprintf("call:push:token:%s", token)
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("call:push:user:%s:tokens", userID)
}

// Store stores a push notification token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	now := time.Now()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now
	token.Active = true

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := r.client.SafeSet(ctx, tokenKey(token.Token), data, constants.PushTokenExpiry).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	if err := r.client.SafeSAdd(ctx, userTokensKey(token.UserID), token.Token).Err(); err != nil {
		return fmt.Errorf("failed to add token to user set: %w", err)
	}

	if err := r.client.SafeExpire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on user tokens set",
			zap.String("user_id", token.UserID.String()),
			zap.Error(err))
	}

	return nil
}

// GetByUserID retrieves all tokens for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	tokenValues, err := r.client.SafeSMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	var result []*push.Token
	for _, tokenValue := range tokenValues {
		data, err := r.client.SafeGet(ctx, tokenKey(tokenValue)).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				// Token expired but index entry lingered
				r.client.SafeSRem(ctx, userTokensKey(userID), tokenValue)
				continue
			}
			logger.Warn("Failed to get push token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}

		var token push.Token
		if err := json.Unmarshal(data, &token); err != nil {
			continue
		}
		result = append(result, &token)
	}

	return result, nil
}

// Delete removes a token for a user
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, tokenValue string) error {
	if err := r.client.SafeSRem(ctx, userTokensKey(userID), tokenValue).Err(); err != nil {
		return fmt.Errorf("failed to remove token from user set: %w", err)
	}

	if err := r.client.SafeDel(ctx, tokenKey(tokenValue)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	return nil
}

// MarkInactive flags a token the provider rejected as invalid
func (r *PushTokenRepository) MarkInactive(ctx context.Context, tokenValue string) error {
	data, err := r.client.SafeGet(ctx, tokenKey(tokenValue)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to get token: %w", err)
	}

	var token push.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("failed to unmarshal token: %w", err)
	}

	token.Active = false
	token.UpdatedAt = time.Now()

	updated, err := json.Marshal(&token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := r.client.SafeSet(ctx, tokenKey(tokenValue), updated, constants.PushTokenExpiry).Err(); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}

	return nil
}
