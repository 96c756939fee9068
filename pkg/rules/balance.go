package rules

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"ilp-connector/pkg/balance"
	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
)

var ErrInvalidSettlement = errors.New("invalid settlement config")

const settleTimeout = 30 * time.Second

// Settler sends money to a peer through its settlement engine.
type Settler interface {
	Settle(ctx context.Context, peerID string, amount *big.Int, scale int) error
}

// SettlementOptions is the "settlement" block of a balance rule.
type SettlementOptions struct {
	URL             string    `json:"url"`
	SettleTo        model.Int `json:"settleTo"`
	SettleThreshold model.Int `json:"settleThreshold"`
}

// BalanceOptions are the parameters of a balance rule.
type BalanceOptions struct {
	Minimum        model.Int          `json:"minimum"`
	Maximum        model.Int          `json:"maximum"`
	InitialBalance model.Int          `json:"initialBalance"`
	Settlement     *SettlementOptions `json:"settlement"`
}

// Validate reports configuration errors that must stop the peer from being added.
func (o BalanceOptions) Validate() error {
	if o.Settlement != nil && o.Settlement.URL == "" {
		return fmt.Errorf("%w: settlement engine url is required", ErrInvalidSettlement)
	}
	return nil
}

// NewBalance builds the ledger described by o, with unset bounds defaulting to
// the int64 range.
func (o BalanceOptions) NewBalance(scale int) (*balance.Balance, error) {
	return balance.New(
		o.InitialBalance.Or(big.NewInt(0)),
		o.Minimum.Or(balance.MinInt64),
		o.Maximum.Or(balance.MaxInt64),
		scale,
	)
}

// BalanceRule keeps the peer's balance in step with fulfilled packets. Prepares
// hold room against the bounds; only fulfills move the value.
type BalanceRule struct {
	Passthrough
	peerID     string
	book       *balance.Book
	settlement *SettlementOptions
	settler    Settler
	stats      *Stats
	log        *zap.Logger
	wg         sync.WaitGroup
}

// NewBalanceRule looks the balance up in book on every packet, so removing the
// peer's balance from the book takes effect immediately. settlement and settler
// may be nil.
func NewBalanceRule(peerID string, book *balance.Book, settlement *SettlementOptions, settler Settler, stats *Stats, log *zap.Logger) *BalanceRule {
	return &BalanceRule{
		peerID:     peerID,
		book:       book,
		settlement: settlement,
		settler:    settler,
		stats:      stats,
		log:        log,
	}
}

func (r *BalanceRule) Incoming(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		b, err := r.book.Get(r.peerID)
		if err != nil {
			return nil, fmt.Errorf("balance for peer %s: %w", r.peerID, err)
		}
		if p.Amount == 0 {
			return next(ctx, p)
		}
		amount := new(big.Int).SetUint64(p.Amount)
		hold, err := b.Hold(new(big.Int).Neg(amount))
		if err != nil {
			r.log.Debug("incoming packet over balance limit", zap.String("peer", r.peerID), zap.Uint64("amount", p.Amount), zap.Error(err))
			return nil, ilp.InsufficientLiquidityError("exceeded maximum balance. peerId=%s", r.peerID)
		}
		return r.forward(ctx, p, next, b, hold)
	}
}

func (r *BalanceRule) Outgoing(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		b, err := r.book.Get(r.peerID)
		if err != nil {
			return nil, fmt.Errorf("balance for peer %s: %w", r.peerID, err)
		}
		if p.Amount == 0 {
			return next(ctx, p)
		}
		hold, err := b.Hold(new(big.Int).SetUint64(p.Amount))
		if err != nil {
			r.log.Debug("outgoing packet over balance limit", zap.String("peer", r.peerID), zap.Uint64("amount", p.Amount), zap.Error(err))
			return nil, ilp.InsufficientLiquidityError("insufficient liquidity to forward packet. peerId=%s", r.peerID)
		}
		return r.forward(ctx, p, next, b, hold)
	}
}

// forward sends the packet on and resolves the hold by its outcome.
func (r *BalanceRule) forward(ctx context.Context, p *ilp.Prepare, next ilp.Handler, b *balance.Balance, hold *balance.Hold) (ilp.Reply, error) {
	reply, err := next(ctx, p)
	if err != nil || !ilp.IsFulfill(reply) {
		hold.Release()
		return reply, err
	}
	hold.Commit()
	r.stats.setBalance(r.peerID, b.Value())
	r.maybeSettle(b)
	return reply, nil
}

func (r *BalanceRule) maybeSettle(b *balance.Balance) {
	if r.settlement == nil || r.settler == nil {
		return
	}
	amount, ok := b.ReduceTo(r.settlement.SettleThreshold.Or(big.NewInt(0)), r.settlement.SettleTo.Or(big.NewInt(0)))
	if !ok {
		return
	}

	r.log.Info("settling with peer", zap.String("peer", r.peerID), zap.String("amount", amount.String()))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if err := r.settler.Settle(ctx, r.peerID, amount, b.Scale()); err != nil {
			r.log.Error("settlement failed, restoring balance",
				zap.String("peer", r.peerID), zap.String("amount", amount.String()), zap.Error(err))
			if err := b.Update(amount); err != nil {
				r.log.Error("could not restore balance after failed settlement", zap.String("peer", r.peerID), zap.Error(err))
			}
			r.stats.settlement(r.peerID, false)
		} else {
			r.stats.settlement(r.peerID, true)
		}
		r.stats.setBalance(r.peerID, b.Value())
	}()
}

// Shutdown waits for in-flight settlements.
func (r *BalanceRule) Shutdown() {
	r.wg.Wait()
}
