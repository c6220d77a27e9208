package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/auth"
	"github.com/margo-sol/backend/internal/config"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/events"
	"github.com/margo-sol/backend/internal/metrics"
	"github.com/margo-sol/backend/internal/models"
	"github.com/margo-sol/backend/internal/solpay"
	"github.com/margo-sol/backend/internal/solpay/solpaytest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// In-memory stand-ins for the repositories. Each mirrors the guarantees the
// Postgres implementation gives (unique wallet, one grant per pair, one
// submission per signature).

type fakeUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.User
	// getFailures makes GetByID fail with a storage error this many times first.
	getFailures int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[uuid.UUID]*models.User{}}
}

func (f *fakeUsers) add(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	f.byID[u.ID] = u
	return u
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getFailures > 0 {
		f.getFailures--
		return nil, fmt.Errorf("%w: connection reset", errs.ErrStorageUnavailable)
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) find(match func(*models.User) bool) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.Email != nil && *u.Email == email })
}

func (f *fakeUsers) GetByWallet(_ context.Context, wallet string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.WalletAddress != nil && *u.WalletAddress == wallet })
}

func (f *fakeUsers) CreateWithEmail(ctx context.Context, email, passwordHash, username string) (*models.User, error) {
	if _, err := f.GetByEmail(ctx, email); err == nil {
		return nil, errs.ErrAlreadyExists
	}
	return f.add(&models.User{Email: &email, PasswordHash: &passwordHash, Username: username, CreatedAt: time.Now()}), nil
}

func (f *fakeUsers) UpsertByWallet(ctx context.Context, wallet, username string) (*models.User, error) {
	if u, err := f.GetByWallet(ctx, wallet); err == nil {
		return u, nil
	}
	return f.add(&models.User{WalletAddress: &wallet, Username: username, CreatedAt: time.Now()}), nil
}

func (f *fakeUsers) LinkWallet(ctx context.Context, userID uuid.UUID, wallet string) (*models.User, error) {
	if u, err := f.GetByWallet(ctx, wallet); err == nil && u.ID != userID {
		return nil, errs.ErrWalletTaken
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	u.WalletAddress = &wallet
	cp := *u
	return &cp, nil
}

type fakeChallenges struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
	ttl  time.Duration
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{seen: map[string]bool{}}
}

func (f *fakeChallenges) Consume(_ context.Context, wallet, message string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = ttl
	if f.err != nil {
		return false, f.err
	}
	key := wallet + "|" + message
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAudit) Log(_ context.Context, e models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeCollections map[int64]*models.Collection

func (f fakeCollections) GetByID(_ context.Context, id int64) (*models.Collection, error) {
	c, ok := f[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return c, nil
}

type grantKey struct {
	user       uuid.UUID
	collection int64
}

type fakeLedger struct {
	mu     sync.Mutex
	grants map[grantKey]*models.Purchase
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{grants: map[grantKey]*models.Purchase{}}
}

func (f *fakeLedger) RecordGrant(_ context.Context, userID uuid.UUID, collectionID int64, txSignature *string) (*models.Purchase, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := grantKey{userID, collectionID}
	if p, ok := f.grants[k]; ok {
		return p, false, nil
	}
	p := &models.Purchase{
		ID:           uuid.New(),
		UserID:       userID,
		CollectionID: collectionID,
		AccessKey:    uuid.NewString(),
		TxSignature:  txSignature,
		CreatedAt:    time.Now(),
	}
	f.grants[k] = p
	return p, true, nil
}

func (f *fakeLedger) HasGrant(_ context.Context, userID uuid.UUID, collectionID int64) (*models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.grants[grantKey{userID, collectionID}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return p, nil
}

func (f *fakeLedger) ListByUser(_ context.Context, userID uuid.UUID) ([]models.PurchaseWithCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PurchaseWithCollection
	for k, p := range f.grants {
		if k.user == userID {
			out = append(out, models.PurchaseWithCollection{Purchase: *p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectionID < out[j].CollectionID })
	return out, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

type fakeSubmissions struct {
	mu   sync.Mutex
	subs map[string]*models.PaymentSubmission
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{subs: map[string]*models.PaymentSubmission{}}
}

func (f *fakeSubmissions) Claim(_ context.Context, sub *models.PaymentSubmission) (*models.PaymentSubmission, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[sub.Signature]; ok {
		cp := *s
		return &cp, false, nil
	}
	s := *sub
	s.Status = models.PaymentStatusSubmitted
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	f.subs[s.Signature] = &s
	cp := s
	return &cp, true, nil
}

func (f *fakeSubmissions) Transition(_ context.Context, signature, from, to string, upd models.SubmissionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !models.IsValidPaymentTransition(from, to) {
		return errs.ErrNotFound
	}
	s, ok := f.subs[signature]
	if !ok || s.Status != from {
		return errs.ErrNotFound
	}
	s.Status = to
	if upd.Payer != nil {
		s.Payer = upd.Payer
	}
	if upd.Slot != nil {
		s.Slot = upd.Slot
	}
	if upd.Reason != nil {
		s.Reason = upd.Reason
	}
	return nil
}

func (f *fakeSubmissions) ListPending(_ context.Context, limit int) ([]models.PaymentSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentSubmission
	for _, s := range f.subs {
		if s.Status == models.PaymentStatusSubmitted || s.Status == models.PaymentStatusConfirmed {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSubmissions) ExpireSubmitted(_ context.Context, signatures []string, before time.Time, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, sig := range signatures {
		s, ok := f.subs[sig]
		if ok && s.Status == models.PaymentStatusSubmitted && s.CreatedAt.Before(before) {
			s.Status = models.PaymentStatusRejected
			r := reason
			s.Reason = &r
			n++
		}
	}
	return n, nil
}

func (f *fakeSubmissions) status(sig string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[sig]; ok {
		return s.Status
	}
	return ""
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, _ string, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) IncCounter(name string, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[name]++
}

func (r *countingRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

func (r *countingRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

var _ metrics.Recorder = (*countingRecorder)(nil)

func testConfig() *config.Config {
	return &config.Config{
		SolanaNetwork:        "devnet",
		ConfirmPollInterval:  time.Millisecond,
		ConfirmTimeout:       50 * time.Millisecond,
		JWTSecret:            "test-secret",
		JWTExpiration:        24 * time.Hour,
		JWTRefreshWindow:     5 * time.Minute,
		LoginChallengeMaxAge: 2 * time.Minute,
	}
}

// purchaseEnv wires a PurchaseService to the fake network and in-memory stores.
type purchaseEnv struct {
	svc         *PurchaseService
	net         *solpaytest.Network
	seller      solana.PrivateKey
	users       *fakeUsers
	ledger      *fakeLedger
	submissions *fakeSubmissions
	publisher   *fakePublisher
	audit       *fakeAudit
	rec         *countingRecorder
	cfg         *config.Config
}

const (
	collectionID   = int64(7)
	collectionSOL  = "0.5"
	collectionLamp = uint64(500_000_000)
)

func newPurchaseEnv(t *testing.T) *purchaseEnv {
	t.Helper()

	env := &purchaseEnv{
		net:         solpaytest.NewNetwork(),
		seller:      solpaytest.NewKey(),
		users:       newFakeUsers(),
		ledger:      newFakeLedger(),
		submissions: newFakeSubmissions(),
		publisher:   &fakePublisher{},
		audit:       &fakeAudit{},
		rec:         &countingRecorder{},
		cfg:         testConfig(),
	}

	builder, err := solpay.NewBuilder(env.net, env.seller.PublicKey().String())
	require.NoError(t, err)
	watcher := solpay.NewWatcher(env.net, env.cfg.ConfirmPollInterval, env.cfg.ConfirmTimeout, zap.NewNop())

	collections := fakeCollections{
		collectionID: {ID: collectionID, Title: "Genesis", PriceSOL: collectionSOL},
	}

	env.svc = NewPurchaseService(collections, env.ledger, env.submissions, env.users, builder, watcher,
		env.publisher, env.audit, env.rec, env.cfg, zap.NewNop())
	return env
}

// buyer creates an account with a linked wallet.
func (e *purchaseEnv) buyer() (*models.User, solana.PrivateKey) {
	key := solpaytest.NewKey()
	wallet := key.PublicKey().String()
	u := e.users.add(&models.User{Username: models.WalletUsername(wallet), WalletAddress: &wallet})
	return u, key
}

// pay settles a transfer from key to to and returns its signature.
func (e *purchaseEnv) pay(t *testing.T, key solana.PrivateKey, to solana.PublicKey, lamports uint64) string {
	t.Helper()
	tx, err := solpaytest.SignedTransfer(key, to, lamports)
	require.NoError(t, err)
	sig, err := e.net.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	return sig.String()
}

func newTestIssuer() *auth.Issuer {
	return auth.NewIssuer("test-secret", 24*time.Hour, 5*time.Minute)
}
