package submitter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"beaconoracle.com/internal/oracle/domain"
	"beaconoracle.com/pkg/logger"
	"beaconoracle.com/pkg/xerr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DirectBackend is what DirectSigner needs from an RPC client; *ethclient.Client fits.
type DirectBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type DirectConfig struct {
	ChainID  *big.Int
	Contract common.Address

	// GasLimit is used when estimation fails. Zero means estimation is required.
	GasLimit uint64
	// MaxFeeCap refuses to sign when 2*baseFee+tip is above it. nil disables the check.
	MaxFeeCap *big.Int

	InclusionTimeout time.Duration
	ReceiptPoll      time.Duration
}

// DirectSigner signs addTimestamp transactions with a local key and waits for them to
// be mined.
type DirectSigner struct {
	backend DirectBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	cfg     DirectConfig
}

var _ domain.Submitter = (*DirectSigner)(nil)

func NewDirectSigner(backend DirectBackend, key *ecdsa.PrivateKey, cfg DirectConfig) (*DirectSigner, error) {
	if key == nil {
		return nil, xerr.New(xerr.ConfigInvalid, "direct mode requires a signing key")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, xerr.New(xerr.ConfigInvalid, "direct mode requires a chain id")
	}
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = 3 * time.Minute
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 3 * time.Second
	}
	return &DirectSigner{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg,
	}, nil
}

func (s *DirectSigner) Name() string { return string(domain.ModeDirect) }

// Address is the account paying for the anchoring transactions.
func (s *DirectSigner) Address() common.Address { return s.from }

func (s *DirectSigner) Submit(ctx context.Context, call []byte) domain.SubmissionOutcome {
	tx, err := s.buildTx(ctx, call)
	if err != nil {
		return domain.Failed(err)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.cfg.ChainID), s.key)
	if err != nil {
		return domain.Failed(xerr.Wrap(xerr.Submission, err, "sign"))
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return domain.Failed(xerr.Wrap(xerr.Submission, err, "broadcast"))
	}
	hash := signed.Hash()
	logger.Info(ctx, "transaction broadcast",
		zap.String("hash", hash.Hex()),
		zap.Uint64("nonce", signed.Nonce()),
		zap.Uint64("gas", signed.Gas()),
		zap.String("max_fee_gwei", toGwei(signed.GasFeeCap()).String()))

	receipt, err := s.waitReceipt(ctx, hash)
	if err != nil {
		return domain.Unconfirmed(hash, xerr.Wrap(xerr.Unconfirmed, err,
			fmt.Sprintf("no receipt for %s within %s", hash.Hex(), s.cfg.InclusionTimeout)))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.SubmissionOutcome{
			TxHash: &hash,
			Err:    xerr.Newf(xerr.Submission, "transaction %s reverted in block %s", hash.Hex(), receipt.BlockNumber),
		}
	}
	return domain.Succeeded(hash)
}

func (s *DirectSigner) buildTx(ctx context.Context, call []byte) (*types.Transaction, error) {
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, xerr.Wrap(xerr.Submission, err, "pending nonce")
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerr.Wrap(xerr.Submission, err, "suggest gas tip")
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerr.Wrap(xerr.Submission, err, "latest header")
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		// pre-London chain
		baseFee = big.NewInt(0)
	}
	// 2*baseFee leaves room for six full blocks of base fee growth
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	if s.cfg.MaxFeeCap != nil && feeCap.Cmp(s.cfg.MaxFeeCap) > 0 {
		return nil, xerr.Newf(xerr.Submission, "fee cap %s gwei above ceiling %s gwei",
			toGwei(feeCap), toGwei(s.cfg.MaxFeeCap))
	}

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.from,
		To:        &s.cfg.Contract,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      call,
	})
	switch {
	case err == nil:
		gas = gas * 12 / 10
	case s.cfg.GasLimit > 0:
		logger.Warn(ctx, "gas estimation failed, using configured limit",
			zap.Uint64("gas_limit", s.cfg.GasLimit), zap.Error(err))
		gas = s.cfg.GasLimit
	default:
		return nil, xerr.Wrap(xerr.Submission, err, "estimate gas")
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &s.cfg.Contract,
		Value:     big.NewInt(0),
		Data:      call,
	}), nil
}

func (s *DirectSigner) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.InclusionTimeout)
	defer cancel()

	b, err := retry.NewConstant(s.cfg.ReceiptPoll)
	if err != nil {
		return nil, err
	}
	var receipt *types.Receipt
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		r, err := s.backend.TransactionReceipt(ctx, hash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				logger.Debug(ctx, "receipt lookup failed", zap.String("hash", hash.Hex()), zap.Error(err))
			}
			return retry.RetryableError(err)
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func toGwei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -9)
}
