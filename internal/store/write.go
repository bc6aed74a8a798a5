package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/nodejit/internal/compiler"
	"github.com/roach88/nodejit/internal/pipeline"
)

// Compilation statuses.
const (
	StatusCompiled = "compiled"
	StatusBailout  = "bailout"
)

// Compilation is one row of the log.
type Compilation struct {
	ID     string `json:"id"`
	Seq    int64  `json:"seq"`
	Graph  string `json:"graph"`
	Status string `json:"status"`

	// Bailout fields are empty for compiled graphs.
	BailoutCode string `json:"bailout_code,omitempty"`
	Phase       string `json:"phase,omitempty"`
	Message     string `json:"message,omitempty"`

	InputFingerprint  string `json:"input_fingerprint"`
	OutputFingerprint string `json:"output_fingerprint,omitempty"`

	Reductions     int  `json:"reductions"`
	Linearized     bool `json:"linearized"`
	Lowered        int  `json:"lowered"`
	EffectPhis     int  `json:"effect_phis"`
	ClonedBranches int  `json:"cloned_branches"`

	Warnings []compiler.CycleWarning `json:"warnings"`
}

// CompilationOf builds the log row for a pipeline run. err is the error
// Run returned with res; a non-bailout error is recorded with an empty
// bailout code.
func CompilationOf(res *pipeline.Result, err error) Compilation {
	c := Compilation{
		ID:                res.ID,
		Seq:               res.Seq,
		Graph:             res.Graph,
		Status:            StatusCompiled,
		InputFingerprint:  res.InputFingerprint,
		OutputFingerprint: res.OutputFingerprint,
		Reductions:        res.Reductions,
		Linearized:        res.Linearized,
		Lowered:           res.Stats.Lowered,
		EffectPhis:        res.Stats.EffectPhis,
		ClonedBranches:    res.Stats.ClonedBranches,
		Warnings:          res.Warnings,
	}
	if err != nil {
		c.Status = StatusBailout
		c.Message = err.Error()
		c.OutputFingerprint = ""
		var be *pipeline.BailoutError
		if errors.As(err, &be) {
			c.BailoutCode = string(be.Code)
			c.Phase = be.Phase
		}
	}
	if c.Warnings == nil {
		c.Warnings = []compiler.CycleWarning{}
	}
	return c
}

// WriteCompilation inserts a compilation and its deopt points in one
// transaction. Uses ON CONFLICT(id) DO NOTHING: writing the same
// compilation twice leaves the first copy and returns inserted=false.
func (s *Store) WriteCompilation(ctx context.Context, c Compilation, deopts []pipeline.DeoptPoint) (inserted bool, err error) {
	warningsJSON, err := marshalWarnings(c.Warnings)
	if err != nil {
		return false, fmt.Errorf("write compilation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write compilation: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO compilations
		(id, seq, graph, status, bailout_code, phase, message,
		 input_fingerprint, output_fingerprint, reductions, linearized,
		 lowered, effect_phis, cloned_branches, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		c.ID,
		c.Seq,
		c.Graph,
		c.Status,
		c.BailoutCode,
		c.Phase,
		c.Message,
		c.InputFingerprint,
		c.OutputFingerprint,
		c.Reductions,
		c.Linearized,
		c.Lowered,
		c.EffectPhis,
		c.ClonedBranches,
		warningsJSON,
	)
	if err != nil {
		return false, fmt.Errorf("write compilation: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write compilation: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Already logged; its deopt points were written with it.
		return false, tx.Commit()
	}

	for _, d := range deopts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO deopt_points
			(compilation_id, node, kind, reason, bailout_id, condition_node, condition_op)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			c.ID,
			int64(d.Node),
			d.Kind,
			d.Reason,
			d.BailoutID,
			int64(d.Condition),
			d.ConditionOp,
		)
		if err != nil {
			return false, fmt.Errorf("write compilation: deopt #%d: %w", d.Node, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write compilation: commit: %w", err)
	}
	return true, nil
}

// Record logs the outcome of one pipeline run: the compilation row and,
// for graphs that compiled, their deopt points.
func (s *Store) Record(ctx context.Context, res *pipeline.Result, runErr error) error {
	var deopts []pipeline.DeoptPoint
	if runErr == nil {
		deopts = res.Deopts
	}
	_, err := s.WriteCompilation(ctx, CompilationOf(res, runErr), deopts)
	return err
}
