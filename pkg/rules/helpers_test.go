package rules

import (
	"context"
	"crypto/sha256"
	"time"

	"ilp-connector/pkg/ilp"
)

var testFulfillment = ilp.Digest{'I', 'L', 'P'}

func testPrepare(amount uint64) *ilp.Prepare {
	return &ilp.Prepare{
		Amount:             amount,
		Destination:        "test.bob",
		ExecutionCondition: ilp.Digest(sha256.Sum256(testFulfillment[:])),
		ExpiresAt:          time.Now().Add(10 * time.Second),
	}
}

func fulfiller(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
	return &ilp.Fulfill{Fulfillment: testFulfillment}, nil
}

func rejecter(code, message string) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		return &ilp.Reject{Code: code, TriggeredBy: "test.peer", Message: message}, nil
	}
}

func failer(err error) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		return nil, err
	}
}
