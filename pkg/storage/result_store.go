package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	flerrors "github.com/flowlens/flowlens/pkg/errors"
	"github.com/flowlens/flowlens/pkg/flow"
	"github.com/flowlens/flowlens/pkg/runner"
	"github.com/flowlens/flowlens/pkg/vision"
)

// RunSummary is the list view of a persisted flow run.
type RunSummary struct {
	ID         string    `json:"id"`
	FlowName   string    `json:"flow_name"`
	Verdict    string    `json:"verdict"`
	Confidence int       `json:"confidence"`
	Error      string    `json:"error,omitempty"`
	CostUSD    float64   `json:"cost_usd"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// SaveRunResult persists a completed run and its step results in one
// transaction.
func (s *Store) SaveRunResult(ctx context.Context, result *runner.FlowRunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flerrors.Wrap(err, flerrors.ErrCodeStorageWrite, "begin save run")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flow_runs (
			id, flow_name, intent, url, viewport_width, viewport_height,
			session_id, verdict, confidence, error, cost_usd,
			started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.FlowName, result.Intent, result.URL,
		result.Viewport.Width, result.Viewport.Height,
		result.SessionID, string(result.Verdict), result.Confidence,
		result.Error, result.CostUSD,
		result.StartedAt.UTC(), result.CompletedAt.UTC(), result.DurationMS,
	)
	if err != nil {
		return flerrors.Wrap(err, flerrors.ErrCodeStorageWrite, "insert flow run").
			WithContext("run_id", result.ID)
	}

	for _, step := range result.Steps {
		var analysisJSON sql.NullString
		if step.Analysis != nil {
			data, err := json.Marshal(step.Analysis)
			if err != nil {
				return flerrors.Wrap(err, flerrors.ErrCodeStorageWrite, "marshal step analysis").
					WithContext("run_id", result.ID).
					WithContext("step", step.Index)
			}
			analysisJSON = sql.NullString{String: string(data), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_results (
				run_id, step_index, action, target, status, success, fatal,
				duration_ms, error, screenshot_hash, screenshot_path, analysis_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.ID, step.Index, string(step.Action), step.Target,
			string(step.Status), step.Success, step.Fatal,
			step.DurationMS, step.Error, step.ScreenshotHash,
			step.ScreenshotPath, analysisJSON,
		)
		if err != nil {
			return flerrors.Wrap(err, flerrors.ErrCodeStorageWrite, "insert step result").
				WithContext("run_id", result.ID).
				WithContext("step", step.Index)
		}
	}

	if err := tx.Commit(); err != nil {
		return flerrors.Wrap(err, flerrors.ErrCodeStorageWrite, "commit save run").
			WithContext("run_id", result.ID)
	}
	return nil
}

// GetRun loads one persisted run with its step results. Returns nil when the
// id is unknown.
func (s *Store) GetRun(ctx context.Context, id string) (*runner.FlowRunResult, error) {
	result := &runner.FlowRunResult{}
	var verdict string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, flow_name, intent, url, viewport_width, viewport_height,
		       session_id, verdict, confidence, error, cost_usd,
		       started_at, completed_at, duration_ms
		  FROM flow_runs WHERE id = ?`, id,
	).Scan(
		&result.ID, &result.FlowName, &result.Intent, &result.URL,
		&result.Viewport.Width, &result.Viewport.Height,
		&result.SessionID, &verdict, &result.Confidence,
		&result.Error, &result.CostUSD,
		&result.StartedAt, &result.CompletedAt, &result.DurationMS,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeStorageRead, "load flow run").
			WithContext("run_id", id)
	}
	result.Verdict = runner.Verdict(verdict)

	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, action, target, status, success, fatal,
		       duration_ms, error, screenshot_hash, screenshot_path, analysis_json
		  FROM step_results WHERE run_id = ? ORDER BY step_index`, id)
	if err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeStorageRead, "load step results").
			WithContext("run_id", id)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step         runner.StepResult
			action       string
			status       string
			target       sql.NullString
			stepErr      sql.NullString
			hash         sql.NullString
			path         sql.NullString
			analysisJSON sql.NullString
		)
		if err := rows.Scan(
			&step.Index, &action, &target, &status, &step.Success, &step.Fatal,
			&step.DurationMS, &stepErr, &hash, &path, &analysisJSON,
		); err != nil {
			return nil, flerrors.Wrap(err, flerrors.ErrCodeStorageRead, "scan step result")
		}
		step.Action = flow.Action(action)
		step.Status = runner.StepStatus(status)
		step.Target = target.String
		step.Error = stepErr.String
		step.ScreenshotHash = hash.String
		step.ScreenshotPath = path.String
		if analysisJSON.Valid {
			var analysis vision.Analysis
			if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
				return nil, flerrors.Wrap(err, flerrors.ErrCodeStorageRead, "decode step analysis").
					WithContext("run_id", id).
					WithContext("step", step.Index)
			}
			step.Analysis = &analysis
		}
		result.Steps = append(result.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeStorageRead, "iterate step results")
	}
	return result, nil
}

// ListRuns returns recent run summaries, newest first. flowName filters when
// non-empty; limit caps the result (default 20).
func (s *Store) ListRuns(ctx context.Context, flowName string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, flow_name, verdict, confidence, error, cost_usd, started_at, duration_ms
		  FROM flow_runs`
	args := []any{}
	if flowName != "" {
		query += " WHERE flow_name = ?"
		args = append(args, flowName)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeStorageRead, "list flow runs")
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var (
			summary RunSummary
			runErr  sql.NullString
		)
		if err := rows.Scan(
			&summary.ID, &summary.FlowName, &summary.Verdict, &summary.Confidence,
			&runErr, &summary.CostUSD, &summary.StartedAt, &summary.DurationMS,
		); err != nil {
			return nil, flerrors.Wrap(err, flerrors.ErrCodeStorageRead, "scan run summary")
		}
		summary.Error = runErr.String
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeStorageRead, "iterate run summaries")
	}
	return summaries, nil
}

// DeleteRunsBefore removes runs older than cutoff, cascading to their steps.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM flow_runs WHERE started_at < ?", cutoff.UTC())
	if err != nil {
		return 0, flerrors.Wrap(err, flerrors.ErrCodeStorageWrite, "delete old runs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
