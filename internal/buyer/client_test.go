package buyer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/solpay"
	"github.com/margo-sol/backend/internal/solpay/solpaytest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const price = "0.5"

// fakeAPI serves the subset of the HTTP API the buyer talks to.
type fakeAPI struct {
	net     *solpaytest.Network
	builder *solpay.Builder
	watcher *solpay.Watcher

	mu         sync.Mutex
	tokens     map[string]string
	granted    map[int64]string
	checkCalls int
	// lastAmount is the raw "amount" of the last sol-purchase body, nil when absent.
	lastAmount json.RawMessage

	// checkFailures is the number of 504s check-payment answers first.
	checkFailures int
	// tamperedTx and tamperedLamports replace the built transaction when set.
	tamperedTx       string
	tamperedLamports uint64
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	net := solpaytest.NewNetwork()
	builder, err := solpay.NewBuilder(net, solpaytest.NewKey().PublicKey().String())
	require.NoError(t, err)

	api := &fakeAPI{
		net:     net,
		builder: builder,
		watcher: solpay.NewWatcher(net, time.Millisecond, time.Second, zap.NewNop()),
		tokens:  map[string]string{},
		granted: map[int64]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wallet-login/challenge", api.challenge)
	mux.HandleFunc("POST /api/wallet-login", api.walletLogin)
	mux.HandleFunc("POST /api/sol-purchase", api.authed(api.solPurchase))
	mux.HandleFunc("POST /api/check-payment", api.authed(api.checkPayment))
	mux.HandleFunc("GET /api/is-purchased/{id}", api.authed(api.isPurchased))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg, "request_id": "req-1"})
}

func (a *fakeAPI) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		a.mu.Lock()
		_, ok := a.tokens[token]
		a.mu.Unlock()
		if !ok {
			fail(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func (a *fakeAPI) challenge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Login to Margo on SOL. Nonce: 1-ab"})
}

func (a *fakeAPI) walletLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
		Message       string `json:"message"`
		Signature     string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		fail(w, http.StatusBadRequest, "signature must be base64")
		return
	}
	ok, err := solpay.VerifySignature(req.WalletAddress, []byte(req.Message), sig)
	if err != nil || !ok {
		fail(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	token := "tok-" + req.WalletAddress
	a.mu.Lock()
	a.tokens[token] = req.WalletAddress
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func (a *fakeAPI) solPurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollectionID int64           `json:"collectionId"`
		Amount       json.RawMessage `json:"amount"`
		BuyerWallet  string          `json:"buyerWallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a.mu.Lock()
	a.lastAmount = req.Amount
	_, owned := a.granted[req.CollectionID]
	a.mu.Unlock()
	if owned {
		fail(w, http.StatusConflict, "already purchased")
		return
	}

	built, err := a.builder.Build(r.Context(), req.BuyerWallet, decimal.RequireFromString(price))
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	txB64, lamports := built.Transaction, built.Lamports
	if a.tamperedTx != "" {
		txB64, lamports = a.tamperedTx, a.tamperedLamports
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"transaction": txB64,
		"lamports":    lamports,
		"seller":      built.Seller.String(),
	})
}

func (a *fakeAPI) amountSent() json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAmount
}

func (a *fakeAPI) checkPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollectionID int64  `json:"collectionId"`
		Signature    string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a.mu.Lock()
	a.checkCalls++
	if a.checkFailures > 0 {
		a.checkFailures--
		a.mu.Unlock()
		fail(w, http.StatusGatewayTimeout, "payment not confirmed yet, retry later")
		return
	}
	a.mu.Unlock()

	sig, err := solpay.ParseSignature(req.Signature)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	lamports, _ := solpay.ParseSOL(price)
	if _, err := a.watcher.Await(r.Context(), sig, a.builder.Seller(), lamports); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	a.mu.Lock()
	a.granted[req.CollectionID] = "key-" + strconv.FormatInt(req.CollectionID, 10)
	key := a.granted[req.CollectionID]
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "accessKey": key})
}

func (a *fakeAPI) checks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkCalls
}

func (a *fakeAPI) isPurchased(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	a.mu.Lock()
	key, ok := a.granted[id]
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"purchased": ok, "accessKey": key})
}

func newTestClient(t *testing.T, api *fakeAPI, srv *httptest.Server) (*Client, solana.PrivateKey) {
	t.Helper()
	key := solpaytest.NewKey()
	c := NewClient(srv.URL+"/", key, api.net, api.watcher, zap.NewNop())
	c.checkInterval = time.Millisecond
	c.CheckRetry = 2 * time.Second
	return c, key
}

func TestClient_Login(t *testing.T) {
	api, srv := newFakeAPI(t)
	c, key := newTestClient(t, api, srv)

	require.NoError(t, c.Login(t.Context()))
	require.Equal(t, "tok-"+key.PublicKey().String(), c.Token())
}

func TestClient_Purchase(t *testing.T) {
	api, srv := newFakeAPI(t)
	c, key := newTestClient(t, api, srv)
	require.NoError(t, c.Login(t.Context()))

	receipt, err := c.Purchase(t.Context(), 7, price)
	require.NoError(t, err)
	require.Equal(t, "key-7", receipt.AccessKey)
	require.Equal(t, uint64(500_000_000), receipt.Lamports)
	require.False(t, receipt.AlreadyGranted)

	require.Len(t, api.net.Sent, 1)
	sent := api.net.Sent[0]
	require.Equal(t, receipt.Signature, sent.Signatures[0].String())
	require.True(t, sent.Message.AccountKeys[0].Equals(key.PublicKey()))

	seller, err := api.net.Balance(t.Context(), api.builder.Seller())
	require.NoError(t, err)
	require.Equal(t, uint64(solpaytest.DefaultBalance+500_000_000), seller)
}

func TestClient_Purchase_OmitsEmptyAmount(t *testing.T) {
	api, srv := newFakeAPI(t)
	c, _ := newTestClient(t, api, srv)
	require.NoError(t, c.Login(t.Context()))

	receipt, err := c.Purchase(t.Context(), 7, "")
	require.NoError(t, err)
	require.Equal(t, "key-7", receipt.AccessKey)
	require.Nil(t, api.amountSent())

	_, err = c.Purchase(t.Context(), 8, price)
	require.NoError(t, err)
	require.JSONEq(t, `"0.5"`, string(api.amountSent()))
}

func TestClient_Purchase_RetriesGatewayTimeout(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.checkFailures = 2
	c, _ := newTestClient(t, api, srv)
	require.NoError(t, c.Login(t.Context()))

	receipt, err := c.Purchase(t.Context(), 7, "")
	require.NoError(t, err)
	require.Equal(t, "key-7", receipt.AccessKey)
	require.Equal(t, 3, api.checks())
}

func TestClient_Purchase_AlreadyOwned(t *testing.T) {
	api, srv := newFakeAPI(t)
	c, _ := newTestClient(t, api, srv)
	require.NoError(t, c.Login(t.Context()))

	_, err := c.Purchase(t.Context(), 7, price)
	require.NoError(t, err)

	again, err := c.Purchase(t.Context(), 7, price)
	require.NoError(t, err)
	require.True(t, again.AlreadyGranted)
	require.Equal(t, "key-7", again.AccessKey)
	require.Len(t, api.net.Sent, 1, "second purchase must not pay")
}

func TestClient_Purchase_RefusesBadTransactions(t *testing.T) {
	encode := func(t *testing.T, tx *solana.Transaction) string {
		raw, err := tx.MarshalBinary()
		require.NoError(t, err)
		return base64.StdEncoding.EncodeToString(raw)
	}

	cases := []struct {
		name   string
		amount string
		tamper func(t *testing.T, api *fakeAPI, buyer solana.PublicKey) (string, uint64)
		want   error
	}{
		{
			name:   "price above agreed amount",
			amount: price,
			tamper: func(t *testing.T, api *fakeAPI, buyer solana.PublicKey) (string, uint64) {
				built, err := api.builder.Build(t.Context(), buyer.String(), decimal.RequireFromString("1"))
				require.NoError(t, err)
				return built.Transaction, built.Lamports
			},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "quote differs from transaction",
			tamper: func(t *testing.T, api *fakeAPI, buyer solana.PublicKey) (string, uint64) {
				built, err := api.builder.Build(t.Context(), buyer.String(), decimal.RequireFromString("2"))
				require.NoError(t, err)
				return built.Transaction, 500_000_000
			},
			want: errs.ErrInvalidAmount,
		},
		{
			name: "someone else pays the fee",
			tamper: func(t *testing.T, api *fakeAPI, buyer solana.PublicKey) (string, uint64) {
				tx, err := solpaytest.SignedTransfer(solpaytest.NewKey(), api.builder.Seller(), 500_000_000)
				require.NoError(t, err)
				return encode(t, tx), 500_000_000
			},
			want: errs.ErrPaymentMismatch,
		},
		{
			name: "recipient is not the seller",
			tamper: func(t *testing.T, api *fakeAPI, buyer solana.PublicKey) (string, uint64) {
				other, err := solpay.NewBuilder(api.net, solpaytest.NewKey().PublicKey().String())
				require.NoError(t, err)
				built, err := other.Build(t.Context(), buyer.String(), decimal.RequireFromString(price))
				require.NoError(t, err)
				return built.Transaction, built.Lamports
			},
			want: errs.ErrPaymentMismatch,
		},
		{
			name: "garbage",
			tamper: func(t *testing.T, api *fakeAPI, buyer solana.PublicKey) (string, uint64) {
				return "!!!", 500_000_000
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			c, _ := newTestClient(t, api, srv)
			api.tamperedTx, api.tamperedLamports = tc.tamper(t, api, c.Wallet())
			require.NoError(t, c.Login(t.Context()))

			_, err := c.Purchase(t.Context(), 7, tc.amount)
			require.Error(t, err)
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
			}
			require.Empty(t, api.net.Sent, "nothing may be sent")
			require.Zero(t, api.checks())
		})
	}
}

func TestClient_Purchase_RequiresLogin(t *testing.T) {
	api, srv := newFakeAPI(t)
	c, _ := newTestClient(t, api, srv)

	_, err := c.Purchase(t.Context(), 7, price)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestClient_CheckPayment_PermanentError(t *testing.T) {
	api, srv := newFakeAPI(t)
	c, _ := newTestClient(t, api, srv)
	require.NoError(t, c.Login(t.Context()))

	_, err := c.checkPayment(t.Context(), 7, "not-a-signature")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "req-1", apiErr.RequestID)
	require.False(t, apiErr.Retryable())
	require.Equal(t, 1, api.checks())
}
