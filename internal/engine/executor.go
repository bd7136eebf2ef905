// Package engine runs validation batches. The Executor drives one execution
// unit through simulate and judge, the Orchestrator fans a batch out over a
// bounded worker pool, and the strategies decide whether a batch is scripted
// unit by unit or delegated whole to an autonomous backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labvalidate/internal/logging"
	"labvalidate/internal/types"
)

// DefaultCommand is sent to the simulator for every unit.
const DefaultCommand = "execute_validation"

// DefaultUnitTimeout bounds one unit's simulator call and judgment.
const DefaultUnitTimeout = 60 * time.Second

// Simulator short-circuit: equipment that reports an error is failed without
// asking the backend, with this confidence.
const simulatorFailConfidence = 0.9

// Defaults applied when a judgment cannot be obtained or parsed.
const (
	defaultJudgmentConfidence = 0.5
	defaultJudgmentRationale  = "analysis error"
)

// errPanic marks a recovered collaborator panic.
var errPanic = errors.New("panic in collaborator")

// Augmenter adds retrieved prior knowledge to a judgment prompt.
type Augmenter interface {
	AugmentJudgment(ctx context.Context, basePrompt string, item types.TestItem, equipmentID string) string
}

// TokenSink receives streamed judgment tokens for a unit.
type TokenSink func(unit types.ExecutionUnit, token string)

// Executor runs a single execution unit. It never fails for business-logic
// reasons: simulator errors, backend errors, unparsable judgments and
// timeouts all come back as a Result.
type Executor struct {
	simulator types.TargetSimulator
	backend   types.ReasoningBackend
	augmenter Augmenter
	command   string
	timeout   time.Duration
	sink      TokenSink
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithAugmenter enables retrieval-augmented judgment prompts.
func WithAugmenter(a Augmenter) ExecutorOption {
	return func(e *Executor) { e.augmenter = a }
}

// WithCommand overrides the simulator command.
func WithCommand(cmd string) ExecutorOption {
	return func(e *Executor) {
		if cmd != "" {
			e.command = cmd
		}
	}
}

// WithUnitTimeout sets the per-unit deadline. Zero disables it.
func WithUnitTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithTokenSink streams judgments through sink when the backend can stream.
func WithTokenSink(sink TokenSink) ExecutorOption {
	return func(e *Executor) { e.sink = sink }
}

// NewExecutor creates an executor over its two collaborators.
func NewExecutor(sim types.TargetSimulator, backend types.ReasoningBackend, opts ...ExecutorOption) *Executor {
	e := &Executor{
		simulator: sim,
		backend:   backend,
		command:   DefaultCommand,
		timeout:   DefaultUnitTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs unit, which must belong to item. The unit runs detached from
// ctx cancellation so that a cancelled batch lets in-flight units finish; the
// unit deadline still applies. The returned error is reserved for
// infrastructure failures such as a panicking collaborator.
func (e *Executor) Execute(ctx context.Context, item types.TestItem, unit types.ExecutionUnit) (types.Result, error) {
	if unit.EquipmentID == "" {
		return types.Result{}, fmt.Errorf("unit %d of item %s has no equipment", unit.Index, item.ID)
	}

	unitCtx := context.WithoutCancel(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(unitCtx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := await(unitCtx, func(ctx context.Context) (types.Result, error) {
		return e.run(ctx, item, unit, start)
	})
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, context.DeadlineExceeded):
		logging.ExecutorWarn("unit %s/%s timed out after %v", unit.TestItemID, unit.EquipmentID, e.timeout)
		res = types.FailedResult(unit, types.ErrorKindTimeout, fmt.Errorf("%w after %v", types.ErrUnitTimeout, e.timeout))
		res.DurationSeconds = time.Since(start).Seconds()
		return res, nil
	default:
		return types.Result{}, err
	}
}

// run is the simulate, short-circuit, judge, parse pipeline. It only returns
// an error when ctx expired.
func (e *Executor) run(ctx context.Context, item types.TestItem, unit types.ExecutionUnit, start time.Time) (types.Result, error) {
	logging.ExecutorDebug("unit %s/%s: running %s", unit.TestItemID, unit.EquipmentID, e.command)

	resp, err := e.simulator.Run(ctx, unit.EquipmentID, e.command, map[string]any{})
	if ctx.Err() != nil {
		return types.Result{}, ctx.Err()
	}
	if err != nil {
		res := e.simulatorFailure(unit, fmt.Sprintf("simulator call failed: %v", err), err.Error())
		res.DurationSeconds = time.Since(start).Seconds()
		return res, nil
	}
	if resp.Failed() {
		res := e.simulatorFailure(unit, simulatorRationale(resp), resp.ErrorCode)
		res.DurationSeconds = time.Since(start).Seconds()
		return res, nil
	}

	prompt := judgmentPrompt(item, unit, resp)
	if e.augmenter != nil {
		prompt = e.augmenter.AugmentJudgment(ctx, prompt, item, unit.EquipmentID)
	}

	reply, err := e.judge(ctx, unit, prompt)
	if ctx.Err() != nil {
		return types.Result{}, ctx.Err()
	}
	if err != nil {
		logging.ExecutorWarn("unit %s/%s: judgment failed: %v", unit.TestItemID, unit.EquipmentID, err)
		res := types.NewResult(unit, types.OutcomeFail, defaultJudgmentConfidence, defaultJudgmentRationale)
		res.ErrorKind = types.ErrorKindBackend
		res.ErrorMessage = err.Error()
		res.DurationSeconds = time.Since(start).Seconds()
		return res, nil
	}

	j, ok := parseJudgment(reply)
	var res types.Result
	if ok {
		res = types.NewResult(unit, j.Outcome, j.Confidence, j.Rationale)
		res.Issues = j.Issues
		res.Recommendations = j.Recommendations
		if !j.Recognized {
			logging.ExecutorWarn("unit %s/%s: unrecognized outcome %q, recorded as FAIL", unit.TestItemID, unit.EquipmentID, j.RawOutcome)
		}
	} else {
		logging.ExecutorWarn("unit %s/%s: could not parse judgment (%d bytes)", unit.TestItemID, unit.EquipmentID, len(reply))
		res = types.NewResult(unit, types.OutcomeFail, defaultJudgmentConfidence, defaultJudgmentRationale)
		res.ErrorKind = types.ErrorKindJudgmentParse
		res.ErrorMessage = "judgment reply had no outcome"
	}
	res.DurationSeconds = time.Since(start).Seconds()
	logging.Executor("unit %s/%s: %s (confidence %.2f) in %.2fs",
		unit.TestItemID, unit.EquipmentID, res.Outcome, res.Confidence, res.DurationSeconds)
	return res, nil
}

func (e *Executor) simulatorFailure(unit types.ExecutionUnit, rationale, msg string) types.Result {
	logging.Executor("unit %s/%s: simulator failure, skipping judgment: %s", unit.TestItemID, unit.EquipmentID, rationale)
	res := types.NewResult(unit, types.OutcomeFail, simulatorFailConfidence, rationale)
	res.ErrorKind = types.ErrorKindSimulator
	res.ErrorMessage = msg
	return res
}

// judge streams when a sink is configured and the backend can stream.
func (e *Executor) judge(ctx context.Context, unit types.ExecutionUnit, prompt string) (string, error) {
	if e.sink != nil && e.backend.Capabilities().Streaming {
		if sj, ok := e.backend.(types.StreamingJudge); ok {
			return sj.JudgeStreaming(ctx, judgmentSystemPrompt, prompt, func(tok string) {
				e.sink(unit, tok)
			})
		}
	}
	return e.backend.Judge(ctx, judgmentSystemPrompt, prompt)
}

// await runs fn in its own goroutine and returns when fn finishes or ctx is
// done, whichever comes first. A panic in fn is returned as an error.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type reply struct {
		v   T
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- reply{zero, fmt.Errorf("%w: %v", errPanic, r)}
			}
		}()
		v, err := fn(ctx)
		ch <- reply{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		select {
		case r := <-ch:
			return r.v, r.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}
