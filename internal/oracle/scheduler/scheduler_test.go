package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beaconoracle.com/internal/oracle/checker"
	"beaconoracle.com/internal/oracle/contract"
	"beaconoracle.com/internal/oracle/domain"
	"beaconoracle.com/internal/oracle/oracletest"
	"beaconoracle.com/pkg/broker"
	"beaconoracle.com/pkg/logger"
	"beaconoracle.com/pkg/xerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const interval = 50

// fixedLocator reports the same last anchored boundary every cycle.
type fixedLocator struct {
	last uint64
	err  error
}

func (l fixedLocator) LastAnchoredBoundary(context.Context, uint64) (uint64, error) {
	return l.last, l.err
}

// fakeSubmitter "mines" successful calls into the fake chain.
type fakeSubmitter struct {
	mu    sync.Mutex
	chain *oracletest.FakeChain

	fail  []error // consumed one per call; nil entries succeed
	panic bool
	calls [][]byte
}

func (f *fakeSubmitter) Name() string { return "fake" }

func (f *fakeSubmitter) Submit(_ context.Context, call []byte) domain.SubmissionOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("signer exploded")
	}
	f.calls = append(f.calls, call)
	if len(f.fail) > 0 {
		err := f.fail[0]
		f.fail = f.fail[1:]
		if err != nil {
			return domain.Failed(err)
		}
	}
	ts, err := oracletest.DecodeTimestampArg(call)
	if err != nil {
		return domain.Failed(err)
	}
	f.chain.AnchorTimestamp(ts)
	return domain.Succeeded(common.BytesToHash(call))
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLeader struct {
	ok  bool
	err error
}

func (l fakeLeader) TryAcquireMaster(context.Context) (bool, error) { return l.ok, l.err }

func newTestScheduler(chain *oracletest.FakeChain, locator domain.BoundaryLocator, sub domain.Submitter, opts ...Option) *Scheduler {
	cfg := Config{
		Interval:      interval,
		PollInterval:  10 * time.Millisecond,
		ReadTimeout:   time.Second,
		SubmitTimeout: time.Second,
	}
	return New(cfg, chain, locator, checker.New(chain, interval, 0), sub, opts...)
}

// captureLogs swaps the global logger for one writing JSON into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buffer), zap.DebugLevel)

	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })
	return buffer
}

func mustPackAdd(t *testing.T, ts uint64) []byte {
	t.Helper()
	call, err := contract.PackAddTimestamp(ts)
	require.NoError(t, err)
	return call
}

func TestScheduler_SelectsNextBoundary(t *testing.T) {
	chain := oracletest.NewFakeChain(210)
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, fixedLocator{last: 100}, sub)

	res := s.RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, domain.StageSubmitted, res.Stage)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, uint64(150), res.Candidate.Boundary)
	assert.Equal(t, oracletest.TimestampOf(150), res.Candidate.BlockTimestamp)
	require.Len(t, sub.calls, 1)
	assert.Equal(t, mustPackAdd(t, oracletest.TimestampOf(150)), sub.calls[0])
	require.NotNil(t, res.Outcome)
	assert.True(t, res.Outcome.Success)
}

func TestScheduler_SecondCycleIsIdempotent(t *testing.T) {
	chain := oracletest.NewFakeChain(210)
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, fixedLocator{last: 100}, sub)

	first := s.RunCycle(context.Background())
	require.Equal(t, domain.StageSubmitted, first.Stage)

	second := s.RunCycle(context.Background())
	assert.Equal(t, domain.StageAlreadyAnchored, second.Stage)
	assert.Equal(t, uint64(150), second.Candidate.Boundary)
	assert.Equal(t, 1, sub.callCount())
}

func TestScheduler_NoCandidate(t *testing.T) {
	chain := oracletest.NewFakeChain(205)
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, fixedLocator{last: 200}, sub)

	res := s.RunCycle(context.Background())
	assert.Equal(t, domain.StageNoCandidate, res.Stage)
	assert.Nil(t, res.Candidate)
	assert.Empty(t, chain.TimestampReads)
	assert.Zero(t, sub.callCount())
}

func TestScheduler_AlreadyAnchored(t *testing.T) {
	chain := oracletest.NewFakeChain(210)
	chain.Anchor(150)
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, fixedLocator{last: 100}, sub)

	res := s.RunCycle(context.Background())
	assert.Equal(t, domain.StageAlreadyAnchored, res.Stage)
	assert.NoError(t, res.Err)
	assert.Zero(t, sub.callCount())
}

func TestScheduler_BroadcastFailureRetriedNextCycle(t *testing.T) {
	logs := captureLogs(t)
	chain := oracletest.NewFakeChain(210)
	sub := &fakeSubmitter{chain: chain, fail: []error{xerr.New(xerr.Submission, "broadcast: connection reset")}}
	s := newTestScheduler(chain, fixedLocator{last: 100}, sub)

	first := s.RunCycle(context.Background())
	assert.Equal(t, domain.StageSubmitFailed, first.Stage)
	assert.True(t, xerr.Is(first.Err, xerr.Submission))
	assert.False(t, chain.AnchoredAt(150))
	assert.Contains(t, logs.String(), `"msg":"submission failed"`)
	assert.Contains(t, logs.String(), "connection reset")

	second := s.RunCycle(context.Background())
	assert.Equal(t, domain.StageSubmitted, second.Stage)
	require.Len(t, sub.calls, 2)
	assert.Equal(t, sub.calls[0], sub.calls[1], "same candidate on retry")
	assert.True(t, chain.AnchoredAt(150))
}

func TestScheduler_SafetyMargin(t *testing.T) {
	for _, height := range []uint64{150, 151} {
		chain := oracletest.NewFakeChain(height)
		sub := &fakeSubmitter{chain: chain}
		s := newTestScheduler(chain, fixedLocator{last: 100}, sub)

		res := s.RunCycle(context.Background())
		assert.Equal(t, domain.StageUnstable, res.Stage, "height %d", height)
		assert.Empty(t, chain.TimestampReads, "height %d", height)
		assert.Zero(t, sub.callCount(), "height %d", height)
	}

	chain := oracletest.NewFakeChain(152)
	sub := &fakeSubmitter{chain: chain}
	res := newTestScheduler(chain, fixedLocator{last: 100}, sub).RunCycle(context.Background())
	assert.Equal(t, domain.StageSubmitted, res.Stage)
}

func TestScheduler_SafetyMarginWithContractLocator(t *testing.T) {
	chain := oracletest.NewFakeChain(201)
	chain.Anchor(150)
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, checker.New(chain, interval, 0), sub)

	res := s.RunCycle(context.Background())
	assert.Equal(t, domain.StageUnstable, res.Stage)
	assert.Equal(t, uint64(150), res.LastAnchored)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, uint64(200), res.Candidate.Boundary)
	assert.NotContains(t, chain.TimestampReads, uint64(200))
	assert.Zero(t, sub.callCount())

	chain.Height = 202
	res = s.RunCycle(context.Background())
	require.Equal(t, domain.StageSubmitted, res.Stage)
	assert.Equal(t, uint64(200), res.Candidate.Boundary)
	assert.True(t, chain.AnchoredAt(200))
}

func TestScheduler_LaggingReplicaStillAnchorsStableBoundary(t *testing.T) {
	chain := oracletest.NewFakeChain(201)
	chain.Missing[200] = true
	chain.Anchor(100)
	sub := &fakeSubmitter{chain: chain}

	res := newTestScheduler(chain, checker.New(chain, interval, 0), sub).RunCycle(context.Background())
	require.Equal(t, domain.StageSubmitted, res.Stage)
	assert.Equal(t, uint64(150), res.Candidate.Boundary)
	assert.Equal(t, 1, sub.callCount())
}

func TestScheduler_CheckFailureNeverSubmits(t *testing.T) {
	chain := oracletest.NewFakeChain(210)
	chain.ContractErr = xerr.New(xerr.ChainRead, "eth_call: 502")
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, fixedLocator{last: 100}, sub)

	res := s.RunCycle(context.Background())
	assert.Equal(t, domain.StageReadFailed, res.Stage)
	assert.True(t, xerr.Is(res.Err, xerr.ChainRead))
	require.NotNil(t, res.Candidate)
	assert.Zero(t, sub.callCount())
}

func TestScheduler_ReadFailures(t *testing.T) {
	t.Run("height", func(t *testing.T) {
		chain := oracletest.NewFakeChain(210)
		chain.HeightErr = errors.New("dial tcp: refused")
		sub := &fakeSubmitter{chain: chain}

		res := newTestScheduler(chain, fixedLocator{last: 100}, sub).RunCycle(context.Background())
		assert.Equal(t, domain.StageReadFailed, res.Stage)
		assert.Zero(t, sub.callCount())
	})

	t.Run("locator", func(t *testing.T) {
		chain := oracletest.NewFakeChain(210)
		sub := &fakeSubmitter{chain: chain}

		res := newTestScheduler(chain, fixedLocator{err: errors.New("boom")}, sub).RunCycle(context.Background())
		assert.Equal(t, domain.StageReadFailed, res.Stage)
		assert.Equal(t, uint64(210), res.Height)
		assert.Zero(t, sub.callCount())
	})

	t.Run("timestamp", func(t *testing.T) {
		chain := oracletest.NewFakeChain(210)
		chain.TimestampErr = errors.New("header not found")
		sub := &fakeSubmitter{chain: chain}

		res := newTestScheduler(chain, fixedLocator{last: 100}, sub).RunCycle(context.Background())
		assert.Equal(t, domain.StageReadFailed, res.Stage)
		assert.Zero(t, sub.callCount())
	})
}

func TestScheduler_WithContractLocator(t *testing.T) {
	chain := oracletest.NewFakeChain(210)
	chain.Anchor(100)
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, checker.New(chain, interval, 0), sub)

	res := s.RunCycle(context.Background())
	require.Equal(t, domain.StageSubmitted, res.Stage)
	assert.Equal(t, uint64(100), res.LastAnchored)
	assert.Equal(t, uint64(150), res.Candidate.Boundary)

	// catches up one boundary per cycle
	res = s.RunCycle(context.Background())
	require.Equal(t, domain.StageSubmitted, res.Stage)
	assert.Equal(t, uint64(200), res.Candidate.Boundary)

	res = s.RunCycle(context.Background())
	assert.Equal(t, domain.StageNoCandidate, res.Stage)
	assert.Equal(t, uint64(200), res.LastAnchored)
	assert.Equal(t, 2, sub.callCount())
}

func TestScheduler_Leader(t *testing.T) {
	chain := oracletest.NewFakeChain(210)
	sub := &fakeSubmitter{chain: chain}

	res := newTestScheduler(chain, fixedLocator{last: 100}, sub, WithLeader(fakeLeader{ok: false})).
		RunCycle(context.Background())
	assert.Equal(t, domain.StageNotLeader, res.Stage)
	assert.Zero(t, chain.HeightCalls)

	res = newTestScheduler(chain, fixedLocator{last: 100}, sub, WithLeader(fakeLeader{err: errors.New("redis down")})).
		RunCycle(context.Background())
	assert.Equal(t, domain.StageNotLeader, res.Stage)
	assert.Error(t, res.Err)
	assert.Zero(t, sub.callCount())

	res = newTestScheduler(chain, fixedLocator{last: 100}, sub, WithLeader(fakeLeader{ok: true})).
		RunCycle(context.Background())
	assert.Equal(t, domain.StageSubmitted, res.Stage)
}

func TestScheduler_PublishesOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := broker.NewMemBroker()
	events := mem.Subscribe(ctx, []string{TopicSubmitted, TopicFailed})

	chain := oracletest.NewFakeChain(210)
	sub := &fakeSubmitter{chain: chain, fail: []error{xerr.New(xerr.Submission, "relay rejected")}}
	s := newTestScheduler(chain, fixedLocator{last: 100}, sub, WithPublisher(mem))

	s.RunCycle(ctx)
	s.RunCycle(ctx)

	var got []AnchorEvent
	for i := 0; i < 2; i++ {
		select {
		case msg := <-events:
			var ev AnchorEvent
			require.NoError(t, json.Unmarshal(msg.Payload, &ev))
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatal("event not published")
		}
	}
	assert.False(t, got[0].Success)
	assert.Contains(t, got[0].Error, "relay rejected")
	assert.True(t, got[1].Success)
	assert.Equal(t, uint64(150), got[1].Boundary)
	assert.NotEmpty(t, got[1].TxHash)
	assert.Equal(t, "fake", got[1].Strategy)
}

func TestScheduler_DefaultPublisherDropsEvents(t *testing.T) {
	chain := oracletest.NewFakeChain(210)
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, fixedLocator{last: 100}, sub, WithPublisher(nil))
	assert.IsType(t, broker.Nop{}, s.publisher)

	res := s.RunCycle(context.Background())
	assert.Equal(t, domain.StageSubmitted, res.Stage)
}

func TestScheduler_PanicIsContained(t *testing.T) {
	chain := oracletest.NewFakeChain(210)
	sub := &fakeSubmitter{chain: chain, panic: true}
	s := newTestScheduler(chain, fixedLocator{last: 100}, sub)

	var res CycleResult
	require.NotPanics(t, func() { res = s.RunCycle(context.Background()) })
	assert.Equal(t, domain.StagePanicked, res.Stage)
	assert.Equal(t, xerr.Internal, xerr.CodeOf(res.Err))
}

func TestScheduler_RunUntilCancelled(t *testing.T) {
	chain := oracletest.NewFakeChain(205)
	sub := &fakeSubmitter{chain: chain}
	s := newTestScheduler(chain, fixedLocator{last: 200}, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, chain.HeightCalls, 2, "loop keeps cycling")
}
