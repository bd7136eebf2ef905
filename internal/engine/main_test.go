package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"labvalidate/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// fakeSimulator answers with respond (success by default), optionally after
// delay. It honors ctx unless ignoreCtx is set.
type fakeSimulator struct {
	respond   func(equipmentID string) (types.SimulatorResponse, error)
	delay     time.Duration
	release   chan struct{}
	ignoreCtx bool

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeSimulator) Run(ctx context.Context, equipmentID, command string, params map[string]any) (types.SimulatorResponse, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if n <= prev || f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}

	if f.release != nil {
		if f.ignoreCtx {
			<-f.release
		} else {
			select {
			case <-f.release:
			case <-ctx.Done():
				return types.SimulatorResponse{}, ctx.Err()
			}
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return types.SimulatorResponse{}, ctx.Err()
		}
	}

	if f.respond != nil {
		return f.respond(equipmentID)
	}
	return types.SimulatorResponse{
		Status:      types.SimulatorSuccess,
		EquipmentID: equipmentID,
		Command:     command,
		Data:        map[string]any{"cell_count": 3, "state": "active"},
	}, nil
}

func failingSimulator() *fakeSimulator {
	return &fakeSimulator{respond: func(id string) (types.SimulatorResponse, error) {
		return types.SimulatorResponse{
			Status:       types.SimulatorError,
			EquipmentID:  id,
			ErrorCode:    "CONNECTION_TIMEOUT",
			ErrorMessage: "equipment did not answer",
			ErrorDetails: "no response within 30s from " + id,
		}, nil
	}}
}

// fakeBackend returns reply for every judgment and delegateReply for
// delegation.
type fakeBackend struct {
	name       string
	caps       types.Capabilities
	reply      string
	judgeErr   error
	judgeFn    func(prompt string) (string, error)
	delegateFn func(ctx context.Context, prompt string, tb types.Toolbox) (string, error)

	mu            sync.Mutex
	judgePrompts  []string
	delegateCalls int
}

func (f *fakeBackend) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeBackend) Capabilities() types.Capabilities { return f.caps }

func (f *fakeBackend) Judge(ctx context.Context, systemPrompt, prompt string) (string, error) {
	f.mu.Lock()
	f.judgePrompts = append(f.judgePrompts, prompt)
	f.mu.Unlock()
	if f.judgeFn != nil {
		return f.judgeFn(prompt)
	}
	return f.reply, f.judgeErr
}

func (f *fakeBackend) Delegate(ctx context.Context, prompt string, tb types.Toolbox) (string, error) {
	f.mu.Lock()
	f.delegateCalls++
	f.mu.Unlock()
	if f.delegateFn != nil {
		return f.delegateFn(ctx, prompt, tb)
	}
	return "", nil
}

func (f *fakeBackend) judgeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.judgePrompts)
}

// streamingBackend streams reply in two halves.
type streamingBackend struct {
	fakeBackend
}

func (s *streamingBackend) JudgeStreaming(ctx context.Context, systemPrompt, prompt string, onToken func(string)) (string, error) {
	half := len(s.reply) / 2
	onToken(s.reply[:half])
	onToken(s.reply[half:])
	return s.reply, nil
}

// suffixAugmenter appends a fixed marker to every prompt.
type suffixAugmenter struct{ suffix string }

func (a suffixAugmenter) AugmentJudgment(ctx context.Context, basePrompt string, item types.TestItem, equipmentID string) string {
	return basePrompt + "\n" + a.suffix + " " + item.ID + "@" + equipmentID
}

const passReply = `{"outcome": "PASS", "confidence": 0.92, "rationale": "all cells active", "issues": [], "recommendations": ["keep monitoring"]}`

func newBatch(t *testing.T, items ...types.TestItem) *types.Batch {
	t.Helper()
	b, err := types.NewBatch("test", items)
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	return b
}

func item(id string, targets ...string) types.TestItem {
	return types.TestItem{
		ID:            id,
		Block:         "Cell Setup",
		Category:      "functional",
		ConditionText: "all cells of " + strings.ToLower(id) + " must be active",
		ExpectedCount: 1,
		Targets:       targets,
	}
}

type pair struct{ Item, Equipment string }

func pairsOf(results []types.Result) []pair {
	out := make([]pair, 0, len(results))
	for _, r := range results {
		out = append(out, pair{r.TestItemID, r.EquipmentID})
	}
	return out
}

func unitPairs(b *types.Batch) []pair {
	var out []pair
	for _, u := range b.Units() {
		out = append(out, pair{u.TestItemID, u.EquipmentID})
	}
	return out
}
