// Package metrics records payment flow counters and latencies.
package metrics

import "time"

// Counter names
const (
	PaymentConfirmed = "payment_confirmed"
	PaymentMismatch  = "payment_mismatch"
	PaymentTimeout   = "payment_timeout"
	PaymentUpstream  = "payment_upstream_error"
	GrantCreated     = "grant_created"
	SignatureReused  = "signature_reused"
	WalletLogin      = "wallet_login"
	SweepExpired     = "sweep_expired"
)

// Latency names
const (
	ConfirmationLatency = "payment_confirmation"
	BuildLatency        = "transaction_build"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
