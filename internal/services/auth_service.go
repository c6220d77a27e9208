package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/auth"
	"github.com/margo-sol/backend/internal/config"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/metrics"
	"github.com/margo-sol/backend/internal/models"
	"go.uber.org/zap"
)

// Session is an issued token and the account it was issued for.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

type AuthService struct {
	users   UserStore
	audit   AuditLogger
	issuer  *auth.Issuer
	prover  *walletProver
	metrics metrics.Recorder
	cfg     *config.Config
	log     *zap.Logger
}

func NewAuthService(
	users UserStore,
	challenges ChallengeStore,
	audit AuditLogger,
	issuer *auth.Issuer,
	rec metrics.Recorder,
	cfg *config.Config,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		users:   users,
		audit:   audit,
		issuer:  issuer,
		prover:  &walletProver{challenges: challenges, maxAge: cfg.LoginChallengeMaxAge, now: time.Now},
		metrics: rec,
		cfg:     cfg,
		log:     log,
	}
}

// Challenge returns a fresh message for a wallet to sign.
func (s *AuthService) Challenge() (string, error) {
	return auth.NewChallenge(s.prover.now())
}

// WalletLogin verifies that wallet signed message and returns a session for
// the account bound to wallet, creating the account on first login.
func (s *AuthService) WalletLogin(ctx context.Context, wallet, message string, signature []byte) (*Session, error) {
	if err := s.prover.prove(ctx, wallet, message, signature); err != nil {
		s.log.Info("wallet login rejected", zap.String("wallet", wallet), zap.Error(err))
		return nil, err
	}

	u, err := s.users.UpsertByWallet(ctx, wallet, models.WalletUsername(wallet))
	if err != nil {
		return nil, fmt.Errorf("load wallet account: %w", err)
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &u.ID,
		ActorType:   "user",
		Action:      models.AuditWalletLogin,
		EntityType:  "user",
		EntityID:    u.ID.String(),
		Meta:        map[string]any{"wallet": wallet},
	})
	s.metrics.IncCounter(metrics.WalletLogin, map[string]string{"network": s.cfg.SolanaNetwork})

	return s.issue(u)
}

// Register creates an email account. The username is the local part of the email.
func (s *AuthService) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	username, _, _ := strings.Cut(email, "@")
	u, err := s.users.CreateWithEmail(ctx, email, hash, username)
	if err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &u.ID,
		ActorType:   "user",
		Action:      models.AuditUserRegistered,
		EntityType:  "user",
		EntityID:    u.ID.String(),
	})
	s.log.Info("user registered", zap.String("user_id", u.ID.String()))
	return u, nil
}

// Login checks an email and password. Unknown email and wrong password both
// yield errs.ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if u.PasswordHash == nil {
		return nil, errs.ErrUnauthorized
	}
	if err := auth.CheckPassword(*u.PasswordHash, password); err != nil {
		return nil, err
	}
	return s.issue(u)
}

// Refresh returns the presented token unchanged while it has more than the
// refresh window left, and a freshly issued one otherwise. The new token is
// built from the stored account so a wallet linked since login is included.
func (s *AuthService) Refresh(ctx context.Context, claims *auth.Claims, token string) (*Session, bool, error) {
	if !s.issuer.NeedsRefresh(claims) {
		return &Session{Token: token, ExpiresAt: claims.ExpiresAt.Time}, false, nil
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, false, errs.ErrUnauthorized
	}
	if err != nil {
		return nil, false, err
	}

	sess, err := s.issue(u)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *AuthService) issue(u *models.User) (*Session, error) {
	subject := auth.Subject{UserID: u.ID, Username: u.Username}
	if u.WalletAddress != nil {
		subject.Wallet = *u.WalletAddress
	}
	if u.Email != nil {
		subject.Email = *u.Email
	}

	token, exp, err := s.issuer.Issue(subject)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}
