// Package pipeline runs the optimizing passes over a loaded graph:
// verification, typed lowering, effect/control linearization and a final
// verification of the linear graph.
//
// A graph that fails any phase is bailed out: Run returns a *BailoutError
// and the function stays in the baseline tier. Deoptimization guards in a
// graph that compiles are listed in the result as DeoptPoints.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/nodejit/internal/compiler"
	"github.com/roach88/nodejit/internal/config"
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/linearize"
	"github.com/roach88/nodejit/internal/lowering"
)

// Phase names, as they appear in logs, bailouts and the compilation log.
const (
	PhaseVerifyInput  = "verify-input"
	PhaseLowering     = "lowering"
	PhaseLinearize    = "linearize"
	PhaseVerifyLinear = "verify-linear"
)

// Pipeline compiles graphs with one configuration.
type Pipeline struct {
	cfg    config.Config
	logger *slog.Logger
	ids    IDGenerator
	clock  *Clock
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger handed to every pass.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithIDGenerator replaces the UUIDv7 compilation IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) {
		p.ids = g
	}
}

// WithClock starts compilation sequence numbers from c.
func WithClock(c *Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// New creates a pipeline for cfg.
func New(cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		logger: slog.Default(),
		ids:    UUIDv7Generator{},
		clock:  NewClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result describes one compilation.
type Result struct {
	ID    string `json:"id"`
	Seq   int64  `json:"seq"`
	Graph string `json:"graph"`

	// InputFingerprint and OutputFingerprint hash the graph before and
	// after the passes.
	InputFingerprint  string `json:"input_fingerprint"`
	OutputFingerprint string `json:"output_fingerprint"`

	Reductions int             `json:"reductions"`
	Linearized bool            `json:"linearized"`
	Stats      linearize.Stats `json:"stats"`

	// Rescheduled counts the schedule entries dropped and placed after
	// lowering rewrote the graph.
	Rescheduled int `json:"rescheduled"`

	Deopts   []DeoptPoint            `json:"deopts"`
	Warnings []compiler.CycleWarning `json:"warnings"`
	Dump     string                  `json:"dump"`
}

// Run compiles g in place. Graphs without a schedule are lowered and
// verified but not linearized.
//
// On bailout the returned error is a *BailoutError, the result carries
// the compilation's identity and the counters reached so far, and g is
// left in whatever state the failing phase produced.
func (p *Pipeline) Run(ctx context.Context, g *compiler.Graph) (*Result, error) {
	jsg := g.JSGraph
	res := &Result{
		ID:    p.ids.Generate(),
		Seq:   p.clock.Next(),
		Graph: g.Name,
	}
	logger := p.logger.With("graph", g.Name, "compilation", res.ID)

	fp, err := ir.Fingerprint(jsg.Graph)
	if err != nil {
		return nil, fmt.Errorf("fingerprint input: %w", err)
	}
	res.InputFingerprint = fp
	logger.Info("compilation started", "nodes", len(jsg.DumpNodes()), "scheduled", g.Schedule != nil)

	if errs := compiler.ValidateScheduled(jsg.Graph, g.Schedule); len(errs) > 0 {
		return res, p.bail(logger, &BailoutError{Code: BailoutInvalidGraph, Graph: g.Name, Phase: PhaseVerifyInput, Errors: errs})
	}

	if err := p.checkContext(ctx, logger, g.Name, PhaseLowering); err != nil {
		return res, err
	}
	reducer := lowering.NewGraphReducer(jsg,
		lowering.WithMaxReductions(p.cfg.Lowering.MaxReductions),
		lowering.WithLogger(logger),
	)
	reducer.AddReducer(lowering.NewTypedLowering(reducer, jsg))
	if err := reducer.ReduceGraph(); err != nil {
		code := BailoutInvariant
		if lowering.IsBudgetExceeded(err) {
			code = BailoutReductionBudget
		}
		return res, p.bail(logger, &BailoutError{Code: code, Graph: g.Name, Phase: PhaseLowering, Err: err})
	}
	res.Reductions = reducer.Reductions()
	logger.Debug("lowering done", "reductions", res.Reductions)

	if g.Schedule != nil {
		if err := p.checkContext(ctx, logger, g.Name, PhaseLinearize); err != nil {
			return res, err
		}
		dropped, placed := g.Schedule.Repair(jsg.Graph)
		res.Rescheduled = dropped + placed
		if res.Rescheduled > 0 {
			logger.Debug("schedule repaired", "dropped", dropped, "placed", placed)
		}

		lin := linearize.New(jsg, g.Schedule,
			linearize.WithLogger(logger),
			linearize.WithBranchCloning(p.cfg.Linearize.BranchCloning),
			linearize.WithFloat64RoundDown(p.cfg.Linearize.Float64RoundDown),
		)
		if err := lin.Run(); err != nil {
			return res, p.bail(logger, &BailoutError{Code: BailoutInvariant, Graph: g.Name, Phase: PhaseLinearize, Err: err})
		}
		res.Linearized = true
		res.Stats = lin.Stats()

		if errs := compiler.ValidateLinear(jsg.Graph); len(errs) > 0 {
			return res, p.bail(logger, &BailoutError{Code: BailoutVerifyFailed, Graph: g.Name, Phase: PhaseVerifyLinear, Errors: errs})
		}
	}

	res.Warnings = compiler.AnalyzeCycles(jsg.Graph)
	for _, w := range res.Warnings {
		if w.Level == "warning" {
			logger.Warn("graph cycle", "path", w.Message)
		}
	}

	res.Deopts = CollectDeopts(jsg.Graph)
	res.Dump = ir.Dump(jsg.Graph)
	if res.OutputFingerprint, err = ir.Fingerprint(jsg.Graph); err != nil {
		return nil, fmt.Errorf("fingerprint output: %w", err)
	}

	logger.Info("compilation finished",
		"reductions", res.Reductions,
		"linearized", res.Linearized,
		"deopts", len(res.Deopts),
	)
	return res, nil
}

func (p *Pipeline) checkContext(ctx context.Context, logger *slog.Logger, graph, phase string) error {
	if err := ctx.Err(); err != nil {
		return p.bail(logger, &BailoutError{Code: BailoutCancelled, Graph: graph, Phase: phase, Err: err})
	}
	return nil
}

func (p *Pipeline) bail(logger *slog.Logger, be *BailoutError) error {
	logger.Warn("compilation bailed out", "code", be.Code, "phase", be.Phase, "error", be.Error())
	return be
}
