package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/margo-sol/backend/internal/errs"
)

const (
	// ChallengePrefix: фиксированный префикс сообщения, которое подписывает кошелёк.
	ChallengePrefix = "Login to Margo on SOL. Nonce: "

	// DefaultChallengeMaxAge: максимальный возраст challenge (защита от replay).
	DefaultChallengeMaxAge = 2 * time.Minute

	// maxFutureSkew bounds how far ahead of the server clock a challenge may be.
	maxFutureSkew = 1 * time.Minute
)

// NewChallenge returns a fresh login message: the prefix, the issue time in
// unix milliseconds and a random suffix.
func NewChallenge(now time.Time) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate challenge nonce: %w", err)
	}
	return ChallengePrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + hex.EncodeToString(b), nil
}

// ParseChallenge extracts the issue time from a login message. The random
// suffix is optional so messages built by older clients still parse.
func ParseChallenge(message string) (time.Time, error) {
	rest, ok := strings.CutPrefix(message, ChallengePrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unexpected message format", errs.ErrStaleChallenge)
	}
	ts, _, _ := strings.Cut(rest, "-")
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, fmt.Errorf("%w: nonce is not a unix timestamp", errs.ErrStaleChallenge)
	}
	return time.UnixMilli(ms), nil
}

// ChallengeReplayTTL is how long a consumed challenge must stay remembered:
// a message stamped maxFutureSkew ahead is still accepted maxAge after its
// stamp. One extra minute covers clock drift between API replicas.
func ChallengeReplayTTL(maxAge time.Duration) time.Duration {
	if maxAge <= 0 {
		maxAge = DefaultChallengeMaxAge
	}
	return maxAge + maxFutureSkew + time.Minute
}

// CheckChallenge parses message and rejects it when issued more than maxAge
// before now or more than a minute after it. maxAge <= 0 means DefaultChallengeMaxAge.
func CheckChallenge(message string, now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultChallengeMaxAge
	}
	issued, err := ParseChallenge(message)
	if err != nil {
		return err
	}
	if age := now.Sub(issued); age > maxAge {
		return fmt.Errorf("%w: challenge is %s old (max %s)", errs.ErrStaleChallenge, age.Round(time.Second), maxAge)
	}
	if issued.After(now.Add(maxFutureSkew)) {
		return fmt.Errorf("%w: challenge timestamp is in the future", errs.ErrStaleChallenge)
	}
	return nil
}
