package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/pipeline"
)

// ErrNotFound is returned when a compilation ID is not in the log.
var ErrNotFound = errors.New("compilation not found")

const compilationColumns = `
	id, seq, graph, status, bailout_code, phase, message,
	input_fingerprint, output_fingerprint, reductions, linearized,
	lowered, effect_phis, cloned_branches, warnings`

// ReadCompilation returns the compilation with the given ID.
func (s *Store) ReadCompilation(ctx context.Context, id string) (Compilation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+compilationColumns+` FROM compilations WHERE id = ?`, id)
	c, err := scanCompilation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Compilation{}, fmt.Errorf("read compilation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Compilation{}, fmt.Errorf("read compilation %s: %w", id, err)
	}
	return c, nil
}

// ListCompilations returns the compilations of graph, or of every graph
// when graph is empty, in sequence order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListCompilations(ctx context.Context, graph string) ([]Compilation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+compilationColumns+`
		FROM compilations
		WHERE ? = '' OR graph = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, graph, graph)
	if err != nil {
		return nil, fmt.Errorf("query compilations: %w", err)
	}
	defer rows.Close()

	compilations := []Compilation{}
	for rows.Next() {
		c, err := scanCompilation(rows)
		if err != nil {
			return nil, err
		}
		compilations = append(compilations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compilations: %w", err)
	}
	return compilations, nil
}

// LastSeq returns the highest sequence number in the log, or 0 for an
// empty log. A pipeline resuming an existing log starts its clock there.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM compilations`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// DeoptFilter narrows ListDeopts. Empty fields match everything.
type DeoptFilter struct {
	Graph  string
	Reason string
}

// DeoptRecord is a deopt point together with the compilation it came from.
type DeoptRecord struct {
	CompilationID string `json:"compilation_id"`
	Seq           int64  `json:"seq"`
	Graph         string `json:"graph"`
	pipeline.DeoptPoint
}

// ReadDeopts returns the deopt points of one compilation in node order.
func (s *Store) ReadDeopts(ctx context.Context, compilationID string) ([]pipeline.DeoptPoint, error) {
	records, err := s.queryDeopts(ctx, `WHERE d.compilation_id = ?`, compilationID)
	if err != nil {
		return nil, err
	}
	points := make([]pipeline.DeoptPoint, len(records))
	for i, r := range records {
		points[i] = r.DeoptPoint
	}
	return points, nil
}

// ListDeopts returns the deopt points matching f in compilation order,
// then node order.
func (s *Store) ListDeopts(ctx context.Context, f DeoptFilter) ([]DeoptRecord, error) {
	return s.queryDeopts(ctx, `
		WHERE (? = '' OR c.graph = ?)
		  AND (? = '' OR d.reason = ?)
	`, f.Graph, f.Graph, f.Reason, f.Reason)
}

func (s *Store) queryDeopts(ctx context.Context, where string, args ...any) ([]DeoptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.seq, c.graph,
		       d.node, d.kind, d.reason, d.bailout_id, d.condition_node, d.condition_op
		FROM deopt_points d
		JOIN compilations c ON d.compilation_id = c.id
		`+where+`
		ORDER BY c.seq ASC, c.id COLLATE BINARY ASC, d.node ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query deopts: %w", err)
	}
	defer rows.Close()

	records := []DeoptRecord{}
	for rows.Next() {
		var (
			r               DeoptRecord
			node, condition int64
		)
		if err := rows.Scan(
			&r.CompilationID, &r.Seq, &r.Graph,
			&node, &r.Kind, &r.Reason, &r.BailoutID, &condition, &r.ConditionOp,
		); err != nil {
			return nil, fmt.Errorf("scan deopt: %w", err)
		}
		r.Node = ir.NodeID(node)
		r.Condition = ir.NodeID(condition)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deopts: %w", err)
	}
	return records, nil
}

// ReasonCount is the number of logged deopt points with one reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// DeoptReasons counts logged deopt points by reason, most frequent
// first, ties by reason name.
func (s *Store) DeoptReasons(ctx context.Context) ([]ReasonCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reason, COUNT(*) AS n
		FROM deopt_points
		GROUP BY reason
		ORDER BY n DESC, reason COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query deopt reasons: %w", err)
	}
	defer rows.Close()

	counts := []ReasonCount{}
	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan deopt reason: %w", err)
		}
		counts = append(counts, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deopt reasons: %w", err)
	}
	return counts, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompilation(row rowScanner) (Compilation, error) {
	var (
		c            Compilation
		warningsJSON string
	)
	err := row.Scan(
		&c.ID, &c.Seq, &c.Graph, &c.Status, &c.BailoutCode, &c.Phase, &c.Message,
		&c.InputFingerprint, &c.OutputFingerprint, &c.Reductions, &c.Linearized,
		&c.Lowered, &c.EffectPhis, &c.ClonedBranches, &warningsJSON,
	)
	if err != nil {
		return Compilation{}, err
	}
	if c.Warnings, err = unmarshalWarnings(warningsJSON); err != nil {
		return Compilation{}, err
	}
	return c, nil
}
