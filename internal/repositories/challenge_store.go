package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/margo-sol/backend/internal/errs"
	"github.com/redis/go-redis/v9"
)

const challengeKeyPrefix = "login-challenge:"

// ChallengeStore remembers consumed login messages so each is accepted once.
type ChallengeStore struct {
	rdb *redis.Client
}

func NewChallengeStore(rdb *redis.Client) *ChallengeStore {
	return &ChallengeStore{rdb: rdb}
}

// Consume marks (wallet, message) as used. It returns false if it was used
// before. ttl must outlive the challenge's acceptance window.
func (s *ChallengeStore) Consume(ctx context.Context, wallet, message string, ttl time.Duration) (bool, error) {
	sum := sha256.Sum256([]byte(wallet + "\n" + message))
	ok, err := s.rdb.SetNX(ctx, challengeKeyPrefix+hex.EncodeToString(sum[:]), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}
	return ok, nil
}
