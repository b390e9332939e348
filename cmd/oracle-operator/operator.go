package main

import (
	"context"
	"math/big"
	"time"

	"beaconoracle.com/internal/oracle/chain/eth"
	"beaconoracle.com/internal/oracle/checker"
	"beaconoracle.com/internal/oracle/config"
	"beaconoracle.com/internal/oracle/scheduler"
	"beaconoracle.com/internal/oracle/submitter"
	"beaconoracle.com/pkg/broker"
	"beaconoracle.com/pkg/logger"
	"beaconoracle.com/pkg/ratelimit"
	"beaconoracle.com/pkg/xerr"
	"beaconoracle.com/pkg/xredis"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// operator owns everything a scheduler needs and closes it on the way out.
type operator struct {
	scheduler *scheduler.Scheduler
	closers   []func(ctx context.Context)
}

func newOperator(ctx context.Context, cfg *config.Config) (_ *operator, err error) {
	op := &operator{}
	defer func() {
		if err != nil {
			op.Close(ctx)
		}
	}()

	client, err := eth.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	op.closers = append(op.closers, func(context.Context) { client.Close() })

	reader := eth.NewReader(client, cfg.ContractAddr(),
		ratelimit.NewLimiter(cfg.Chain.RateLimit, cfg.Chain.RateBurst), cfg.Chain.RPCTimeout)
	if err := reader.VerifyChainID(ctx, cfg.Chain.ChainID); err != nil {
		return nil, err
	}
	chk := checker.New(reader, cfg.BlockInterval, cfg.Lookback)

	maxFee, err := cfg.MaxFeeCapWei()
	if err != nil {
		return nil, err
	}
	sub, err := submitter.New(submitter.Options{
		Mode:         cfg.SubmissionMode(),
		Backend:      client,
		PrivateKey:   cfg.Signer.PrivateKey,
		Mnemonic:     cfg.Signer.Mnemonic,
		AccountIndex: cfg.Signer.AccountIndex,
		Direct: submitter.DirectConfig{
			ChainID:          new(big.Int).SetUint64(cfg.Chain.ChainID),
			Contract:         cfg.ContractAddr(),
			GasLimit:         cfg.Signer.GasLimit,
			MaxFeeCap:        maxFee,
			InclusionTimeout: cfg.Signer.InclusionTimeout,
			ReceiptPoll:      cfg.Signer.ReceiptPoll,
		},
		Relay: submitter.RelayConfig{
			URL:              cfg.Relay.URL,
			APIKey:           cfg.Relay.APIKey,
			ChainID:          cfg.Chain.ChainID,
			Contract:         cfg.ContractAddr(),
			PollInterval:     cfg.Relay.PollInterval,
			InclusionTimeout: cfg.Signer.InclusionTimeout,
			HTTPTimeout:      cfg.Relay.HTTPTimeout,
		},
		Breakers: ratelimit.NewManager(ratelimit.Rule{
			TripConsecutiveFailures: cfg.Relay.Breaker.ConsecutiveFailures,
			Timeout:                 cfg.Relay.Breaker.OpenTimeout,
		}, nil),
	})
	if err != nil {
		return nil, err
	}
	if ds, ok := sub.(*submitter.DirectSigner); ok {
		logger.Info(ctx, "signing locally", zap.String("from", ds.Address().Hex()))
	}

	var opts []scheduler.Option
	if cfg.Redis.Addr != "" {
		rdb, err := xredis.NewRedis(ctx, &xredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, xerr.Wrap(xerr.ConfigInvalid, err, "redis")
		}
		lease := xredis.NewRedisLockMaster(rdb, cfg.LeaderKey(), cfg.Redis.LeaseTTL)
		op.closers = append(op.closers, func(ctx context.Context) {
			c, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			defer cancel()
			if err := lease.Release(c); err != nil {
				logger.Warn(ctx, "release leader lease failed", zap.Error(err))
			}
			_ = rdb.Close()
		})
		logger.Info(ctx, "leader election enabled", zap.String("key", cfg.LeaderKey()), zap.String("id", lease.ID()))
		opts = append(opts, scheduler.WithLeader(lease))
	}
	if cfg.Nats.URL != "" {
		nb, err := broker.NewNatsBroker(cfg.Nats.URL, cfg.Nats.SubjectPrefix, nats.Name(cfg.Name))
		if err != nil {
			return nil, xerr.Wrap(xerr.ConfigInvalid, err, "nats")
		}
		op.closers = append(op.closers, func(context.Context) { _ = nb.Close() })
		opts = append(opts, scheduler.WithPublisher(nb))
	}

	op.scheduler = scheduler.New(scheduler.Config{
		Interval:      cfg.BlockInterval,
		PollInterval:  cfg.PollInterval,
		ReadTimeout:   cfg.Chain.ReadTimeout,
		SubmitTimeout: cfg.Signer.InclusionTimeout + cfg.Chain.ReadTimeout,
	}, reader, chk, chk, sub, opts...)
	return op, nil
}

// Close runs the closers in reverse order.
func (o *operator) Close(ctx context.Context) {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i](ctx)
	}
}
