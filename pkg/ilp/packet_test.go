package ilp

import (
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticConditionIsHashOfZeroFulfillment(t *testing.T) {
	assert.True(t, Fulfills(StaticFulfillment, StaticCondition))
	assert.False(t, Fulfills(Digest{1}, StaticCondition))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeRateLimited, CodeOf(RateLimitedError("slow down")))
	assert.Equal(t, CodeWrongCondition, CodeOf(fmt.Errorf("wrapped: %w", WrongConditionError("bad"))))
	assert.Equal(t, CodeBadRequest, CodeOf(fmt.Errorf("plain")))
}

func TestWithExpiryCopies(t *testing.T) {
	p := &Prepare{Amount: 10, Destination: "test.bob", ExpiresAt: time.Unix(100, 0)}
	q := p.WithExpiry(time.Unix(50, 0))
	assert.Equal(t, time.Unix(100, 0), p.ExpiresAt)
	assert.Equal(t, time.Unix(50, 0), q.ExpiresAt)
	assert.Equal(t, p.Destination, q.Destination)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	fulfillment := Digest{7}
	p := &Prepare{
		Amount:             52,
		Destination:        "test.alice.bob",
		ExecutionCondition: Digest(sha256.Sum256(fulfillment[:])),
		ExpiresAt:          time.Date(2015, 6, 16, 0, 0, 2, 0, time.UTC),
		Data:               []byte("hello"),
	}
	b, err := MarshalPrepare(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"amount":"52"`)

	got, err := UnmarshalPrepare(b)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	b, err = MarshalReply(&Fulfill{Fulfillment: fulfillment})
	require.NoError(t, err)
	reply, err := UnmarshalReply(b)
	require.NoError(t, err)
	require.True(t, IsFulfill(reply))
	assert.True(t, Fulfills(reply.(*Fulfill).Fulfillment, p.ExecutionCondition))
}

func TestUnmarshalReplyRejectsAmbiguousEnvelope(t *testing.T) {
	_, err := UnmarshalReply([]byte(`{"fulfill":{"fulfillment":"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="},"reject":{"code":"F00"}}`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = UnmarshalReply([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
