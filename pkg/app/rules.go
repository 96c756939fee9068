package app

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ilp-connector/pkg/balance"
	"ilp-connector/pkg/model"
	"ilp-connector/pkg/rules"
	"ilp-connector/pkg/settlement"
	"ilp-connector/pkg/tokenbucket"
)

var ErrUnknownRule = errors.New("unknown rule")

// peerState is everything App allocates for one peer. It is built completely
// before any of it becomes visible to packets.
type peerState struct {
	info     model.PeerInfo
	endpoint model.EndpointInfo
	pipeline *rules.Pipeline
	wrapper  *pipelineEndpoint

	balance       *balance.Balance
	cache         *rules.PacketCache
	rateLimit     tokenbucket.Bucket
	throughputIn  tokenbucket.Bucket
	throughputOut tokenbucket.Bucket
	settler       *settlement.Client
}

type maxPacketAmountOptions struct {
	MaxPacketAmount model.Int `json:"maxPacketAmount"`
}

// createRules instantiates the peer's rules in configured order.
func (a *App) createRules(info model.PeerInfo) (*peerState, error) {
	st := &peerState{info: info}
	list := make([]rules.Rule, 0, len(info.Rules))
	for i, cfg := range info.Rules {
		r, err := a.createRule(st, cfg)
		if err != nil {
			if st.cache != nil {
				st.cache.Dispose()
			}
			return nil, fmt.Errorf("peer %s rule %d (%s): %w", info.ID, i, cfg.Name, err)
		}
		list = append(list, r)
	}
	st.pipeline = rules.NewPipeline(list...)
	return st, nil
}

func (a *App) createRule(st *peerState, cfg model.RuleConfig) (rules.Rule, error) {
	id := st.info.ID
	log := a.log.With(zap.String("peer", id), zap.String("rule", string(cfg.Name)))

	switch cfg.Name {
	case model.RuleErrorHandler:
		return rules.NewErrorHandler(a.connector.OwnAddress, log), nil

	case model.RuleExpire:
		return rules.NewExpire(), nil

	case model.RuleReduceExpiry:
		window := a.cfg.MinExpirationWindow / 2
		return rules.NewReduceExpiry(window, window, a.cfg.MaxHoldWindow), nil

	case model.RuleRateLimit:
		var opts rules.RateLimitOptions
		if err := cfg.Decode(&opts); err != nil {
			return nil, err
		}
		bucket, err := rules.NewRateLimitBucket(id, opts, a.redis, log)
		if err != nil {
			return nil, err
		}
		st.rateLimit = bucket
		return rules.NewRateLimit(id, bucket, a.stats), nil

	case model.RuleMaxPacketAmount:
		var opts maxPacketAmountOptions
		if err := cfg.Decode(&opts); err != nil {
			return nil, err
		}
		if !opts.MaxPacketAmount.IsSet() {
			return nil, fmt.Errorf("%w: maxPacketAmount is required", rules.ErrInvalidOptions)
		}
		limit, err := opts.MaxPacketAmount.Uint64(0)
		if err != nil {
			return nil, fmt.Errorf("%w: maxPacketAmount: %v", rules.ErrInvalidOptions, err)
		}
		return rules.NewMaxPacketAmount(limit), nil

	case model.RuleThroughput:
		var opts rules.ThroughputOptions
		if err := cfg.Decode(&opts); err != nil {
			return nil, err
		}
		in, out, err := rules.NewThroughputBuckets(opts)
		if err != nil {
			return nil, err
		}
		st.throughputIn, st.throughputOut = in, out
		return rules.NewThroughput(id, in, out, a.stats), nil

	case model.RuleDeduplicate:
		var opts rules.DeduplicateOptions
		if err := cfg.Decode(&opts); err != nil {
			return nil, err
		}
		st.cache = rules.NewPacketCache(time.Duration(opts.TTL) * time.Millisecond)
		return rules.NewDeduplicate(st.cache), nil

	case model.RuleValidateFulfillment:
		return rules.NewValidateFulfillment(log), nil

	case model.RuleStats:
		return rules.NewStatsRule(id, a.stats), nil

	case model.RuleAlert:
		return rules.NewAlertRule(id, a.alerts), nil

	case model.RuleBalance:
		var opts rules.BalanceOptions
		if err := cfg.Decode(&opts); err != nil {
			return nil, err
		}
		if err := opts.Validate(); err != nil {
			log.Error("balance rule misconfigured", zap.Error(err))
			return nil, err
		}
		if !opts.Minimum.IsSet() && !opts.Maximum.IsSet() {
			log.Warn("balance bounds not configured, peer can spend unlimited funds")
		}
		b, err := opts.NewBalance(st.info.AssetScale)
		if err != nil {
			return nil, err
		}
		st.balance = b
		log.Info("initialized in-memory balance",
			zap.String("minimum", opts.Minimum.Or(balance.MinInt64).String()),
			zap.String("maximum", opts.Maximum.Or(balance.MaxInt64).String()),
			zap.String("initial", b.Value().String()))

		if opts.Settlement == nil {
			return rules.NewBalanceRule(id, a.balances, nil, nil, a.stats, log), nil
		}
		st.settler = settlement.NewClient(opts.Settlement.URL, log.Named("settlement"))
		return rules.NewBalanceRule(id, a.balances, opts.Settlement, st.settler, a.stats, log), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, cfg.Name)
	}
}
