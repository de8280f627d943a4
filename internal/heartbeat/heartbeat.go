// Package heartbeat implements the dynamic-interval main loop (spec
// component C13): drives AgentState, the four pipeline stages, and owns
// graceful shutdown. Grounded on the teacher's internal/engine/heartbeat.go
// (ticker loop, runOnce, graceful ctx.Done() shutdown), generalized from a
// fixed-interval health check to the full seven-step tick algorithm spec.md
// §4.6 describes, including cognition's non-reentrancy rule. Cognition turns
// run as an explicit async task handle (grounded on the teacher's
// HeartbeatManager.runOnce/awaitResult split: launch in a goroutine, poll
// for completion on a channel) rather than a blocking call, per spec.md
// §9's "model as explicit task handles with deadlines" redesign guidance —
// this is what makes the reentrancy rule in §5/§8 invariant 3 reachable:
// a turn can still be in flight when the next tick's timer fires.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/basket/pulseagent/internal/ack"
	"github.com/basket/pulseagent/internal/bus"
	"github.com/basket/pulseagent/internal/pipeline/aggregation"
	"github.com/basket/pulseagent/internal/pipeline/autonomic"
	"github.com/basket/pulseagent/internal/pipeline/cognition"
	"github.com/basket/pulseagent/internal/pipeline/motor"
	"github.com/basket/pulseagent/internal/signal"
	"github.com/basket/pulseagent/internal/state"
)

// EnergyModel is the narrow interface heartbeat needs from
// internal/state.EnergyModel, kept as an interface so tests can supply a
// fake without constructing the real drain/recharge arithmetic.
type EnergyModel interface {
	Drain(s *state.AgentState, kind state.DrainKind)
	Recharge(s *state.AgentState, elapsed time.Duration)
	CalculateTickMultiplier(energy float64) float64
}

// Config tunes the loop itself.
type Config struct {
	Base                 time.Duration
	SocialDebtRatePerTick float64
	NightTimeStartHour    int
	NightTimeEndHour      int
}

// DefaultConfig matches spec.md §4.6/§4.7's defaults.
func DefaultConfig() Config {
	return Config{Base: 5 * time.Second, SocialDebtRatePerTick: 0.002, NightTimeStartHour: 22, NightTimeEndHour: 7}
}

// cognitionDeadline bounds how long a single cognition turn's goroutine may
// run before its context is cancelled — spec.md §5's "no suspension point
// may wait indefinitely" rule applied to the one suspension point that now
// spans tick boundaries.
const cognitionDeadline = 20 * time.Second

// cognitionResult is what a cognition turn's goroutine reports back.
type cognitionResult struct {
	outcome cognition.Outcome
	err     error
}

// cognitionTask is the explicit handle for an in-flight cognition turn:
// a result channel to poll (non-blocking, from runOnce) and a cancel func
// to enforce cognitionDeadline.
type cognitionTask struct {
	result chan cognitionResult
	cancel context.CancelFunc
}

// Runner is the heartbeat scheduler.
type Runner struct {
	cfg Config
	log *slog.Logger

	bus         *bus.Bus
	state       *state.AgentState
	energy      EnergyModel
	autonomic   *autonomic.Stage
	aggregation *aggregation.Stage
	cognition   *cognition.Stage
	motor       *motor.Stage
	acks        *ack.Registry

	pendingCognition *cognitionTask
}

// New builds a Runner wiring every stage.
func New(cfg Config, log *slog.Logger, b *bus.Bus, st *state.AgentState, energy EnergyModel,
	autonomicStage *autonomic.Stage, aggregationStage *aggregation.Stage, cognitionStage *cognition.Stage,
	motorStage *motor.Stage, acks *ack.Registry) *Runner {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg: cfg, log: log, bus: b, state: st, energy: energy,
		autonomic: autonomicStage, aggregation: aggregationStage, cognition: cognitionStage, motor: motorStage, acks: acks,
	}
}

func (r *Runner) isNightTime(now time.Time) bool {
	h := now.Hour()
	if r.cfg.NightTimeStartHour <= r.cfg.NightTimeEndHour {
		return h >= r.cfg.NightTimeStartHour && h < r.cfg.NightTimeEndHour
	}
	return h >= r.cfg.NightTimeStartHour || h < r.cfg.NightTimeEndHour
}

// Run drives the loop until ctx is cancelled, then finishes the current
// tick and returns (spec.md §4.6 shutdown discipline).
func (r *Runner) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("heartbeat shutting down")
			return
		case <-timer.C:
			r.runOnce(ctx)
			timer.Reset(r.state.TickInterval)
		}
	}
}

// runOnce executes exactly the seven steps of spec.md §4.6.
func (r *Runner) runOnce(ctx context.Context) {
	now := time.Now()
	correlationID := uuid.NewString()

	// 1. Advance AgentState.
	lastTick := r.state.LastTickAt
	elapsed := r.cfg.Base
	if !lastTick.IsZero() {
		elapsed = now.Sub(lastTick)
	}
	r.energy.Drain(r.state, state.DrainTick)
	r.energy.Recharge(r.state, elapsed)
	r.state.SocialDebt = clamp01(r.state.SocialDebt + r.cfg.SocialDebtRatePerTick)
	r.state.DecayDisturbance()

	reachOut := r.state.TaskPressure // approximation used for mode evaluation and the tick-interval recompute below
	mode := state.ModeFor(reachOut, r.state.TaskPressure, r.state.Energy, r.isNightTime(now))
	r.state.Sleep.Mode = mode
	energyMultiplier := r.energy.CalculateTickMultiplier(r.state.Energy)
	r.state.RecomputeTickInterval(r.cfg.Base, energyMultiplier, reachOut)
	r.state.LastTickAt = now

	// 2. AUTONOMIC.
	autonomicSignals := r.autonomic.Run(r.state, now, correlationID)
	r.bus.PushBatch(autonomicSignals)

	// 3. Drain external + internal signals already queued on the bus.
	drained := r.bus.Drain(r.drainMax())

	// 4. AGGREGATION.
	decision := r.aggregation.Run(drained, now)

	// 5. COGNITION, honoring non-reentrancy. First collect the result of
	// any turn launched on an earlier tick (6. MOTOR drains whatever
	// intents that turn produced, whichever tick it finishes on), then
	// either launch a new turn or — if one is still in flight — apply the
	// reentrancy rule.
	r.drainCognitionResult(ctx, now)

	if decision.ShouldWake {
		if r.pendingCognition != nil {
			// Re-enqueue thought-typed signals, priority preserved. Push
			// appends them behind signals already queued at the same
			// priority; their order relative to each other is kept.
			for _, s := range decision.Signals {
				if s.Type == signal.TypeThought {
					r.bus.Push(s)
				}
			}
		} else {
			r.startCognition(ctx, decision, now, correlationID)
		}
	}

	// 7. Next tick is scheduled by Run's timer using r.state.TickInterval,
	// already recomputed in step 1.
}

// startCognition launches one cognition turn in its own goroutine, bounded
// by cognitionDeadline, and records the task handle so later ticks can
// poll it instead of blocking on it.
func (r *Runner) startCognition(ctx context.Context, decision aggregation.WakeDecision, now time.Time, correlationID string) {
	taskCtx, cancel := context.WithTimeout(ctx, cognitionDeadline)
	task := &cognitionTask{result: make(chan cognitionResult, 1), cancel: cancel}
	r.pendingCognition = task

	// AgentState is owned exclusively by the scheduler goroutine
	// (spec.md invariant 1); the turn only ever reads it for prompt
	// framing, so a value snapshot taken here keeps the background
	// goroutine from touching r.state while runOnce keeps mutating it on
	// later ticks.
	stSnapshot := *r.state
	cog := r.cognition
	go func() {
		defer cancel()
		outcome, err := cog.Run(taskCtx, decision, &stSnapshot, now, correlationID)
		task.result <- cognitionResult{outcome: outcome, err: err}
	}()
}

// drainCognitionResult polls the in-flight cognition task, if any, without
// blocking. A tick where the turn hasn't finished yet leaves
// r.pendingCognition set, which is exactly what makes runOnce's reentrancy
// branch above reachable.
func (r *Runner) drainCognitionResult(ctx context.Context, now time.Time) {
	if r.pendingCognition == nil {
		return
	}
	select {
	case res := <-r.pendingCognition.result:
		r.pendingCognition = nil
		r.applyCognitionOutcome(ctx, res, now)
	default:
	}
}

// applyCognitionOutcome requeues thought signals and drains the turn's
// intents through MOTOR, the same work runOnce used to do inline.
func (r *Runner) applyCognitionOutcome(ctx context.Context, res cognitionResult, now time.Time) {
	if res.err != nil {
		r.log.Warn("cognition turn failed", "error", res.err)
		return
	}
	for _, thoughtSig := range res.outcome.RequeueSignals {
		r.bus.Push(thoughtSig)
	}
	for _, intent := range res.outcome.Intents {
		mres := r.motor.Apply(ctx, intent, r.state, now)
		if mres.Signal != nil {
			r.bus.Push(*mres.Signal)
		}
		if mres.Err != nil {
			r.log.Warn("motor intent failed", "kind", intent.Kind, "error", mres.Err)
		}
	}
}

func (r *Runner) drainMax() int { return 256 }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
