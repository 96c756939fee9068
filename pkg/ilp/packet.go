package ilp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Digest is a 32 byte condition or fulfillment.
type Digest [32]byte

// MarshalText encodes the digest as standard base64.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(d[:])), nil
}

// UnmarshalText decodes a base64 digest and rejects anything that is not 32 bytes.
func (d *Digest) UnmarshalText(b []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("decode digest: %w", err)
	}
	if len(raw) != len(d) {
		return fmt.Errorf("digest must be %d bytes, got %d", len(d), len(raw))
	}
	copy(d[:], raw)
	return nil
}

// StaticFulfillment and StaticCondition are the non-secret pair used for packets
// that carry no value (settlement messages, address handshakes).
var (
	StaticFulfillment = Digest{}
	StaticCondition   = Digest(sha256.Sum256(StaticFulfillment[:]))
)

// Prepare is an ILP Prepare packet. Treat it as immutable; use WithExpiry to derive a copy.
type Prepare struct {
	Amount             uint64    `json:"amount,string"`
	Destination        string    `json:"destination"`
	ExecutionCondition Digest    `json:"executionCondition"`
	ExpiresAt          time.Time `json:"expiresAt"`
	Data               []byte    `json:"data,omitempty"`
}

// WithExpiry returns a copy of p expiring at t.
func (p *Prepare) WithExpiry(t time.Time) *Prepare {
	cp := *p
	cp.ExpiresAt = t
	return &cp
}

// Reply is either *Fulfill or *Reject.
type Reply interface {
	isReply()
}

// Fulfill proves the payment completed.
type Fulfill struct {
	Fulfillment Digest `json:"fulfillment"`
	Data        []byte `json:"data,omitempty"`
}

// Reject denies a payment.
type Reject struct {
	Code        string `json:"code"`
	TriggeredBy string `json:"triggeredBy"`
	Message     string `json:"message"`
	Data        []byte `json:"data,omitempty"`
}

func (*Fulfill) isReply() {}
func (*Reject) isReply()  {}

// IsReject reports whether r is a Reject.
func IsReject(r Reply) bool {
	_, ok := r.(*Reject)
	return ok
}

// IsFulfill reports whether r is a Fulfill.
func IsFulfill(r Reply) bool {
	_, ok := r.(*Fulfill)
	return ok
}

// Handler processes a Prepare and produces a Reply. Errors are converted to
// Rejects by the error handler rule, or surface to the caller when there is none.
type Handler func(ctx context.Context, p *Prepare) (Reply, error)

// Fulfills reports whether fulfillment is the SHA-256 preimage of condition.
func Fulfills(fulfillment, condition Digest) bool {
	return sha256.Sum256(fulfillment[:]) == [32]byte(condition)
}
