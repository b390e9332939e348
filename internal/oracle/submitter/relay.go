package submitter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"beaconoracle.com/internal/oracle/domain"
	"beaconoracle.com/pkg/logger"
	"beaconoracle.com/pkg/ratelimit"
	"beaconoracle.com/pkg/xerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// BreakerName is the circuit breaker guarding the relay service.
const BreakerName = "relay"

// Relay request states reported by GET /relay/{id}.
const (
	RelayPending = "pending"
	RelaySuccess = "success"
	RelayFailed  = "failed"
)

type RelayConfig struct {
	URL     string
	APIKey  string
	ChainID uint64

	Contract common.Address

	PollInterval     time.Duration
	InclusionTimeout time.Duration
	// HTTPTimeout bounds each request to the relay.
	HTTPTimeout time.Duration
}

type RelayRequest struct {
	ChainID  uint64        `json:"chainId"`
	Address  string        `json:"address"`
	Calldata hexutil.Bytes `json:"calldata"`
}

type RelayAccepted struct {
	ID string `json:"id"`
}

type RelayStatus struct {
	Status string `json:"status"`
	TxHash string `json:"txHash,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RelayClient hands the call to a custody service that signs and broadcasts it.
type RelayClient struct {
	cfg      RelayConfig
	client   *http.Client
	breakers *ratelimit.Manager
}

var _ domain.Submitter = (*RelayClient)(nil)

func NewRelayClient(cfg RelayConfig, breakers *ratelimit.Manager) (*RelayClient, error) {
	if cfg.URL == "" {
		return nil, xerr.New(xerr.ConfigInvalid, "relay mode requires relay.url")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, xerr.Wrap(xerr.ConfigInvalid, err, "relay.url")
	}
	if cfg.APIKey == "" {
		return nil, xerr.New(xerr.ConfigInvalid, "relay mode requires relay.api_key")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = 3 * time.Minute
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if breakers == nil {
		breakers = ratelimit.NewManager(ratelimit.Rule{}, nil)
	}
	return &RelayClient{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		breakers: breakers,
	}, nil
}

func (c *RelayClient) Name() string { return string(domain.ModeRelay) }

func (c *RelayClient) Submit(ctx context.Context, call []byte) domain.SubmissionOutcome {
	var accepted RelayAccepted
	err := c.breakers.Do(BreakerName, func() error {
		return c.do(ctx, http.MethodPost, "/relay", RelayRequest{
			ChainID:  c.cfg.ChainID,
			Address:  c.cfg.Contract.Hex(),
			Calldata: call,
		}, &accepted)
	})
	if err != nil {
		return domain.Failed(xerr.Wrap(xerr.Submission, err, "relay request"))
	}
	if accepted.ID == "" {
		return domain.Failed(xerr.New(xerr.Submission, "relay accepted the request without an id"))
	}
	logger.Info(ctx, "relay request accepted", zap.String("relay_id", accepted.ID))

	status, err := c.wait(ctx, accepted.ID)
	if err != nil {
		return domain.Failed(xerr.Wrap(xerr.Unconfirmed, err,
			fmt.Sprintf("relay request %s not settled within %s", accepted.ID, c.cfg.InclusionTimeout)))
	}
	switch status.Status {
	case RelaySuccess:
		if status.TxHash == "" {
			return domain.Failed(xerr.Newf(xerr.Submission, "relay reported success for %s without a tx hash", accepted.ID))
		}
		return domain.Succeeded(common.HexToHash(status.TxHash))
	case RelayFailed:
		return relayRejected(status, xerr.Newf(xerr.Submission, "relay rejected request %s: %s", accepted.ID, status.Reason))
	default:
		return relayRejected(status, xerr.Newf(xerr.Submission, "relay request %s ended with status %q: %s",
			accepted.ID, status.Status, status.Reason))
	}
}

func relayRejected(status *RelayStatus, err error) domain.SubmissionOutcome {
	out := domain.Failed(err)
	if status.TxHash != "" {
		h := common.HexToHash(status.TxHash)
		out.TxHash = &h
	}
	return out
}

// wait polls the relay while the request is pending. Any other status ends the wait.
func (c *RelayClient) wait(ctx context.Context, id string) (*RelayStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.InclusionTimeout)
	defer cancel()

	b, err := retry.NewConstant(c.cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	var status RelayStatus
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		status = RelayStatus{}
		err := c.breakers.Do(BreakerName, func() error {
			return c.do(ctx, http.MethodGet, "/relay/"+url.PathEscape(id), nil, &status)
		})
		if err != nil {
			logger.Debug(ctx, "relay status poll failed", zap.String("relay_id", id), zap.Error(err))
			return retry.RetryableError(err)
		}
		if status.Status == RelayPending {
			return retry.RetryableError(fmt.Errorf("relay request %s is %q", id, status.Status))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// do sends one JSON request. Transport errors and 5xx come back as plain errors so the
// breaker counts them; 4xx answers are Submission errors.
func (c *RelayClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return xerr.Wrap(xerr.Internal, err, "encode relay request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "build relay request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("relay %s %s: status %d: %s", method, path, resp.StatusCode, snippet(raw))
	case resp.StatusCode >= 400:
		return xerr.Newf(xerr.Submission, "relay %s %s: status %d: %s", method, path, resp.StatusCode, snippet(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode relay response: %w", err)
	}
	return nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
