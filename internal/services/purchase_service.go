package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/config"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/events"
	"github.com/margo-sol/backend/internal/metrics"
	"github.com/margo-sol/backend/internal/models"
	"github.com/margo-sol/backend/internal/solpay"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentResult is the outcome of a successful payment check.
type PaymentResult struct {
	AccessKey      string
	Purchase       *models.Purchase
	AlreadyGranted bool
}

// SweepStats summarizes one sweeper pass.
type SweepStats struct {
	Checked  int
	Granted  int
	Rejected int
	Pending  int
	Expired  int64
}

type PurchaseService struct {
	collections CollectionStore
	ledger      GrantLedger
	submissions SubmissionStore
	users       UserStore
	builder     TransferBuilder
	watcher     PaymentWatcher
	publisher   events.Publisher
	audit       AuditLogger
	metrics     metrics.Recorder
	cfg         *config.Config
	log         *zap.Logger
	now         func() time.Time
}

func NewPurchaseService(
	collections CollectionStore,
	ledger GrantLedger,
	submissions SubmissionStore,
	users UserStore,
	builder TransferBuilder,
	watcher PaymentWatcher,
	publisher events.Publisher,
	audit AuditLogger,
	rec metrics.Recorder,
	cfg *config.Config,
	log *zap.Logger,
) *PurchaseService {
	return &PurchaseService{
		collections: collections,
		ledger:      ledger,
		submissions: submissions,
		users:       users,
		builder:     builder,
		watcher:     watcher,
		publisher:   publisher,
		audit:       audit,
		metrics:     rec,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

// BuildPurchase returns an unsigned transfer of the collection's price from
// buyerWallet to the seller. amount is what the client believes the price is;
// when given it must equal the stored price.
func (s *PurchaseService) BuildPurchase(ctx context.Context, userID uuid.UUID, collectionID int64, amount, buyerWallet string) (*solpay.UnsignedTransfer, error) {
	col, err := s.collections.GetByID(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(col.PriceSOL)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %d price %q", errs.ErrInvalidAmount, collectionID, col.PriceSOL)
	}
	if amount != "" {
		claimed, err := decimal.NewFromString(amount)
		if err != nil || !claimed.Equal(price) {
			return nil, fmt.Errorf("%w: amount %s does not match price %s", errs.ErrInvalidAmount, amount, price.String())
		}
	}

	if _, err := s.ledger.HasGrant(ctx, userID, collectionID); err == nil {
		return nil, fmt.Errorf("%w: collection %d already purchased", errs.ErrAlreadyExists, collectionID)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	start := s.now()
	tx, err := s.builder.Build(ctx, buyerWallet, price)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveLatency(metrics.BuildLatency, s.now().Sub(start), s.labels())

	s.log.Info("purchase transaction built",
		zap.String("user_id", userID.String()),
		zap.Int64("collection_id", collectionID),
		zap.String("buyer", buyerWallet),
		zap.Uint64("lamports", tx.Lamports),
	)
	return tx, nil
}

// CheckPayment confirms that signature pays for collectionID and returns the
// access key. Repeated calls for the same purchase return the same key.
//
// errs.ErrConfirmationTimeout and the Unavailable errors are retryable with
// the same signature; errs.ErrPaymentMismatch and errs.ErrSignatureReused are not.
func (s *PurchaseService) CheckPayment(ctx context.Context, userID uuid.UUID, collectionID int64, signature string) (*PaymentResult, error) {
	sig, err := solpay.ParseSignature(signature)
	if err != nil {
		return nil, err
	}

	col, err := s.collections.GetByID(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	if p, err := s.ledger.HasGrant(ctx, userID, collectionID); err == nil {
		return &PaymentResult{AccessKey: p.AccessKey, Purchase: p, AlreadyGranted: true}, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	expected, err := solpay.ParseSOL(col.PriceSOL)
	if err != nil {
		return nil, err
	}

	sub, _, err := s.submissions.Claim(ctx, &models.PaymentSubmission{
		Signature:        sig.String(),
		UserID:           userID,
		CollectionID:     collectionID,
		ExpectedLamports: expected,
	})
	if err != nil {
		return nil, err
	}

	if sub.UserID != userID || sub.CollectionID != collectionID {
		s.metrics.IncCounter(metrics.SignatureReused, s.labels())
		s.log.Warn("transaction signature reused",
			zap.String("signature", sig.String()),
			zap.String("user_id", userID.String()),
			zap.Int64("collection_id", collectionID),
		)
		return nil, errs.ErrSignatureReused
	}
	if sub.Status == models.PaymentStatusRejected {
		reason := "rejected"
		if sub.Reason != nil {
			reason = *sub.Reason
		}
		return nil, fmt.Errorf("%w: %s", errs.ErrPaymentMismatch, reason)
	}

	return s.resolve(ctx, sub, sig, true)
}

// IsPurchased returns the grant when the user owns the collection.
func (s *PurchaseService) IsPurchased(ctx context.Context, userID uuid.UUID, collectionID int64) (*models.Purchase, bool, error) {
	p, err := s.ledger.HasGrant(ctx, userID, collectionID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *PurchaseService) MyPurchases(ctx context.Context, userID uuid.UUID) ([]models.PurchaseWithCollection, error) {
	return s.ledger.ListByUser(ctx, userID)
}

// SweepPending re-checks submissions left unresolved by an interrupted or
// timed-out check-payment call, then rejects those of them still unconfirmed
// and older than maxAge. Rows beyond limit wait for the next pass.
func (s *PurchaseService) SweepPending(ctx context.Context, maxAge time.Duration, limit int) (SweepStats, error) {
	var (
		stats      SweepStats
		unresolved []string
	)

	pending, err := s.submissions.ListPending(ctx, limit)
	if err != nil {
		return stats, err
	}

	for i := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		sub := &pending[i]
		stats.Checked++

		sig, err := solpay.ParseSignature(sub.Signature)
		if err != nil {
			s.reject(ctx, sub, "malformed signature")
			stats.Rejected++
			continue
		}

		_, err = s.resolve(ctx, sub, sig, false)
		switch {
		case err == nil:
			stats.Granted++
		case errors.Is(err, errs.ErrPaymentMismatch):
			stats.Rejected++
		default:
			stats.Pending++
			if sub.Status == models.PaymentStatusSubmitted {
				unresolved = append(unresolved, sub.Signature)
			}
			if !errors.Is(err, solpay.ErrTxNotFound) {
				s.log.Warn("sweep: payment check failed", zap.String("signature", sub.Signature), zap.Error(err))
			}
		}
	}

	expired, err := s.submissions.ExpireSubmitted(ctx, unresolved, s.now().Add(-maxAge), "not confirmed within "+maxAge.String())
	if err != nil {
		return stats, err
	}
	stats.Expired = expired
	if expired > 0 {
		s.metrics.IncCounter(metrics.SweepExpired, s.labels())
	}

	return stats, nil
}

// resolve runs confirmation for a claimed submission and, on success, records
// the grant. wait selects between polling until the watcher timeout and a
// single lookup.
func (s *PurchaseService) resolve(ctx context.Context, sub *models.PaymentSubmission, sig solana.Signature, wait bool) (*PaymentResult, error) {
	seller := s.builder.Seller()
	start := s.now()

	var (
		conf *solpay.Confirmation
		err  error
	)
	if wait {
		conf, err = s.watcher.Await(ctx, sig, seller, sub.ExpectedLamports)
	} else {
		conf, err = s.watcher.Check(ctx, sig, seller, sub.ExpectedLamports)
	}

	switch {
	case err == nil:
	case errors.Is(err, errs.ErrPaymentMismatch):
		s.reject(ctx, sub, err.Error())
		return nil, err
	case errors.Is(err, errs.ErrConfirmationTimeout):
		s.metrics.IncCounter(metrics.PaymentTimeout, s.labels())
		return nil, err
	default:
		if errors.Is(err, errs.ErrUpstreamUnavailable) {
			s.metrics.IncCounter(metrics.PaymentUpstream, s.labels())
		}
		return nil, err
	}
	s.metrics.ObserveLatency(metrics.ConfirmationLatency, s.now().Sub(start), s.labels())

	if err := s.checkSender(ctx, sub, conf); err != nil {
		if errors.Is(err, errs.ErrPaymentMismatch) {
			s.reject(ctx, sub, err.Error())
		}
		return nil, err
	}

	if sub.Status == models.PaymentStatusSubmitted {
		payer := conf.Sender.String()
		slot := conf.Slot
		err := s.submissions.Transition(ctx, sub.Signature, models.PaymentStatusSubmitted, models.PaymentStatusConfirmed,
			models.SubmissionUpdate{Payer: &payer, Slot: &slot})
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		s.metrics.IncCounter(metrics.PaymentConfirmed, s.labels())
		s.publish(ctx, events.PaymentEvent(events.EventPaymentConfirmed, sub.UserID, sub.CollectionID, sub.Signature,
			map[string]any{"lamports": conf.Lamports, "slot": conf.Slot}))
	}

	txSig := sub.Signature
	p, created, err := s.ledger.RecordGrant(ctx, sub.UserID, sub.CollectionID, &txSig)
	if err != nil {
		return nil, err
	}

	err = s.submissions.Transition(ctx, sub.Signature, models.PaymentStatusConfirmed, models.PaymentStatusGranted, models.SubmissionUpdate{})
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("failed to mark submission granted", zap.String("signature", sub.Signature), zap.Error(err))
	}

	if created {
		s.metrics.IncCounter(metrics.GrantCreated, s.labels())
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: &sub.UserID,
			ActorType:   "system",
			Action:      models.AuditAccessGranted,
			EntityType:  "purchase",
			EntityID:    p.ID.String(),
			Meta: map[string]any{
				"collection_id": sub.CollectionID,
				"signature":     sub.Signature,
				"lamports":      conf.Lamports,
				"payer":         conf.Sender.String(),
			},
		})
		s.publish(ctx, events.PaymentEvent(events.EventAccessGranted, sub.UserID, sub.CollectionID, sub.Signature,
			map[string]any{"access_key": p.AccessKey}))
		s.log.Info("access granted",
			zap.String("user_id", sub.UserID.String()),
			zap.Int64("collection_id", sub.CollectionID),
			zap.String("signature", sub.Signature),
		)
	}

	return &PaymentResult{AccessKey: p.AccessKey, Purchase: p, AlreadyGranted: !created}, nil
}

// checkSender compares the paying wallet with the wallet linked to the buyer.
// A difference is only logged unless PAYMENT_REQUIRE_SENDER_MATCH is set.
func (s *PurchaseService) checkSender(ctx context.Context, sub *models.PaymentSubmission, conf *solpay.Confirmation) error {
	u, err := s.users.GetByID(ctx, sub.UserID)
	if err != nil {
		if s.cfg.PaymentRequireSenderMatch {
			return fmt.Errorf("look up buyer for sender check: %w", err)
		}
		s.log.Warn("sender check skipped", zap.String("user_id", sub.UserID.String()), zap.Error(err))
		return nil
	}

	sender := conf.Sender.String()
	if u.WalletAddress != nil && *u.WalletAddress == sender {
		return nil
	}

	linked := ""
	if u.WalletAddress != nil {
		linked = *u.WalletAddress
	}
	s.log.Warn("payment sender differs from linked wallet",
		zap.String("user_id", sub.UserID.String()),
		zap.String("sender", sender),
		zap.String("linked_wallet", linked),
		zap.String("signature", sub.Signature),
	)
	if s.cfg.PaymentRequireSenderMatch {
		return fmt.Errorf("%w: sender %s is not the buyer's wallet", errs.ErrPaymentMismatch, sender)
	}
	return nil
}

func (s *PurchaseService) reject(ctx context.Context, sub *models.PaymentSubmission, reason string) {
	err := s.submissions.Transition(ctx, sub.Signature, models.PaymentStatusSubmitted, models.PaymentStatusRejected,
		models.SubmissionUpdate{Reason: &reason})
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("failed to mark submission rejected", zap.String("signature", sub.Signature), zap.Error(err))
	}

	s.metrics.IncCounter(metrics.PaymentMismatch, s.labels())
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &sub.UserID,
		ActorType:   "system",
		Action:      models.AuditPaymentRejected,
		EntityType:  "payment",
		EntityID:    sub.Signature,
		Meta:        map[string]any{"collection_id": sub.CollectionID, "reason": reason},
	})
	s.publish(ctx, events.PaymentEvent(events.EventPaymentRejected, sub.UserID, sub.CollectionID, sub.Signature,
		map[string]any{"reason": reason}))
	s.log.Info("payment rejected", zap.String("signature", sub.Signature), zap.String("reason", reason))
}

func (s *PurchaseService) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, events.StreamPayments, e); err != nil {
		s.log.Warn("failed to publish payment event", zap.String("type", e.Type), zap.Error(err))
	}
}

func (s *PurchaseService) labels() map[string]string {
	return map[string]string{"network": s.cfg.SolanaNetwork}
}
