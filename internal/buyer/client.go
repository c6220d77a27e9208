// Package buyer is the paying side of the purchase flow: it logs in with a
// wallet key, asks the API for a payment transaction, checks and signs it,
// submits it to the network and exchanges the signature for an access key.
package buyer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/solpay"
	"go.uber.org/zap"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api returned %d: %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusGatewayTimeout
}

// Receipt is the result of a completed purchase.
type Receipt struct {
	CollectionID   int64
	Signature      string
	Lamports       uint64
	AccessKey      string
	AlreadyGranted bool
}

// SeenWaiter blocks until the network reports a status for a signature.
type SeenWaiter interface {
	WaitUntilSeen(ctx context.Context, sig solana.Signature) error
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	network    solpay.Network
	seen       SeenWaiter
	key        solana.PrivateKey
	log        *zap.Logger

	token string
	// CheckRetry bounds how long check-payment is retried on 503/504.
	CheckRetry    time.Duration
	checkInterval time.Duration
}

func NewClient(baseURL string, key solana.PrivateKey, network solpay.Network, seen SeenWaiter, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// check-payment blocks server-side until confirmation
			Timeout: 3 * time.Minute,
		},
		network:       network,
		seen:          seen,
		key:           key,
		log:           log,
		CheckRetry:    5 * time.Minute,
		checkInterval: time.Second,
	}
}

func (c *Client) Wallet() solana.PublicKey { return c.key.PublicKey() }

// Token returns the session token of the last successful login.
func (c *Client) Token() string { return c.token }

// Login signs a server challenge with the wallet key and stores the session token.
func (c *Client) Login(ctx context.Context) error {
	var challenge struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/wallet-login/challenge", nil, &challenge); err != nil {
		return fmt.Errorf("get challenge: %w", err)
	}

	sig, err := c.key.Sign([]byte(challenge.Message))
	if err != nil {
		return fmt.Errorf("sign challenge: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	err = c.do(ctx, http.MethodPost, "/api/wallet-login", map[string]string{
		"walletAddress": c.Wallet().String(),
		"message":       challenge.Message,
		"signature":     base64.StdEncoding.EncodeToString(sig[:]),
	}, &resp)
	if err != nil {
		return fmt.Errorf("wallet login: %w", err)
	}

	c.token = resp.Token
	c.log.Info("logged in", zap.String("wallet", c.Wallet().String()))
	return nil
}

// Purchase buys collectionID. amount, when not empty, is the price in SOL the
// caller agreed to; the transaction built by the server must match it.
func (c *Client) Purchase(ctx context.Context, collectionID int64, amount string) (*Receipt, error) {
	if c.token == "" {
		return nil, errs.ErrUnauthorized
	}

	var built struct {
		Transaction string `json:"transaction"`
		Lamports    uint64 `json:"lamports"`
		Seller      string `json:"seller"`
	}
	body := map[string]any{
		"collectionId": collectionID,
		"buyerWallet":  c.Wallet().String(),
	}
	if amount != "" {
		body["amount"] = amount
	}
	err := c.do(ctx, http.MethodPost, "/api/sol-purchase", body, &built)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return c.existing(ctx, collectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("request transaction: %w", err)
	}

	tx, transfer, err := c.inspect(built.Transaction, amount, built.Lamports, built.Seller)
	if err != nil {
		return nil, err
	}

	if err := c.sign(tx); err != nil {
		return nil, err
	}

	sig, err := c.network.SendTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	c.log.Info("payment sent",
		zap.String("signature", sig.String()),
		zap.Uint64("lamports", transfer.Lamports),
		zap.String("seller", transfer.To.String()),
	)

	if err := c.seen.WaitUntilSeen(ctx, sig); err != nil {
		return nil, fmt.Errorf("wait for %s: %w", sig, err)
	}

	receipt, err := c.checkPayment(ctx, collectionID, sig.String())
	if err != nil {
		return nil, err
	}
	receipt.Lamports = transfer.Lamports
	return receipt, nil
}

// IsPurchased returns the access key when the collection is already owned.
func (c *Client) IsPurchased(ctx context.Context, collectionID int64) (string, bool, error) {
	var resp struct {
		Purchased bool   `json:"purchased"`
		AccessKey string `json:"accessKey"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/is-purchased/%d", collectionID), nil, &resp); err != nil {
		return "", false, err
	}
	return resp.AccessKey, resp.Purchased, nil
}

func (c *Client) existing(ctx context.Context, collectionID int64) (*Receipt, error) {
	key, ok, err := c.IsPurchased(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: server refused purchase of %d", errs.ErrAlreadyExists, collectionID)
	}
	return &Receipt{CollectionID: collectionID, AccessKey: key, AlreadyGranted: true}, nil
}

// inspect decodes the server-built transaction and refuses to sign anything
// other than a single transfer from this wallet, fee paid by this wallet.
func (c *Client) inspect(b64, amount string, lamports uint64, seller string) (*solana.Transaction, *solpay.Transfer, error) {
	tx, err := solpay.DecodeTransaction(b64)
	if err != nil {
		return nil, nil, err
	}

	wallet := c.Wallet()
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(wallet) {
		return nil, nil, fmt.Errorf("%w: fee payer is not this wallet", errs.ErrPaymentMismatch)
	}
	if len(tx.Message.Instructions) != 1 {
		return nil, nil, fmt.Errorf("%w: expected one instruction, got %d", errs.ErrPaymentMismatch, len(tx.Message.Instructions))
	}

	transfers, err := solpay.FindTransfers(tx)
	if err != nil {
		return nil, nil, err
	}
	if len(transfers) != 1 {
		return nil, nil, fmt.Errorf("%w: expected one transfer, got %d", errs.ErrPaymentMismatch, len(transfers))
	}
	t := transfers[0]

	if !t.From.Equals(wallet) {
		return nil, nil, fmt.Errorf("%w: transfer source is not this wallet", errs.ErrPaymentMismatch)
	}
	if seller != "" && t.To.String() != seller {
		return nil, nil, fmt.Errorf("%w: transfer recipient %s is not the seller %s", errs.ErrPaymentMismatch, t.To, seller)
	}
	if t.Lamports != lamports {
		return nil, nil, fmt.Errorf("%w: transfer of %d lamports, server quoted %d", errs.ErrInvalidAmount, t.Lamports, lamports)
	}
	if amount != "" {
		want, err := solpay.ParseSOL(amount)
		if err != nil {
			return nil, nil, err
		}
		if t.Lamports != want {
			return nil, nil, fmt.Errorf("%w: transfer of %d lamports, agreed %d", errs.ErrInvalidAmount, t.Lamports, want)
		}
	}
	return tx, &t, nil
}

func (c *Client) sign(tx *solana.Transaction) error {
	// the server leaves zeroed signature slots; Sign appends
	tx.Signatures = nil
	_, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(c.key.PublicKey()) {
			return &c.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

// checkPayment reports sig and retries while the server answers 503 or 504.
func (c *Client) checkPayment(ctx context.Context, collectionID int64, sig string) (*Receipt, error) {
	var resp struct {
		AccessKey      string `json:"accessKey"`
		AlreadyGranted bool   `json:"alreadyGranted"`
	}

	op := func() error {
		err := c.do(ctx, http.MethodPost, "/api/check-payment", map[string]any{
			"collectionId": collectionID,
			"signature":    sig,
		}, &resp)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.checkInterval
	b.MaxElapsedTime = c.CheckRetry

	notify := func(err error, wait time.Duration) {
		c.log.Warn("check-payment not final, retrying", zap.String("signature", sig), zap.Duration("backoff", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("check payment %s: %w", sig, err)
	}

	return &Receipt{
		CollectionID:   collectionID,
		Signature:      sig,
		AccessKey:      resp.AccessKey,
		AlreadyGranted: resp.AlreadyGranted,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.RequestID = eb.RequestID
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
