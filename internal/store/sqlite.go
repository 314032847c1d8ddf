package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jszach/conductor/internal/errors"
	"github.com/jszach/conductor/internal/plan"
)

// schema is the full database schema, applied idempotently on open.
const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	goal        TEXT NOT NULL DEFAULT '',
	"trigger"   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	checkpoint  TEXT,
	progress    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	id           TEXT PRIMARY KEY,
	plan_id      TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	order_num    INTEGER NOT NULL,
	type         TEXT NOT NULL,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL,
	input        TEXT,
	output       TEXT,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT,
	completed_at TEXT,
	UNIQUE(plan_id, order_num)
);

CREATE TABLE IF NOT EXISTS history (
	id        TEXT PRIMARY KEY,
	plan_id   TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	event     TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	data      TEXT
);

CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
CREATE INDEX IF NOT EXISTS idx_steps_plan ON steps(plan_id, order_num);
CREATE INDEX IF NOT EXISTS idx_history_plan ON history(plan_id, timestamp);
`

// SQLiteStore is the durable Store implementation backed by a single
// SQLite database file.
type SQLiteStore struct {
	db *sql.DB

	// now is overridable for tests.
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the database at path and
// applies the schema. The parent directory is created when missing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports a single writer; serialize access through one
	// connection rather than racing on SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -----------------------------------------------------------------------------
// Plans
// -----------------------------------------------------------------------------

// CreatePlan persists the plan and its steps in one transaction. Missing
// IDs and zero timestamps are filled in; steps default to pending.
func (s *SQLiteStore) CreatePlan(ctx context.Context, p *plan.Plan, steps []plan.Step) error {
	if p == nil {
		return errors.NewValidationError("plan is required").WithField("plan")
	}
	if p.OwnerID == "" {
		return errors.NewValidationError("plan owner is required").WithField("owner_id")
	}
	if p.Name == "" {
		return errors.NewValidationError("plan name is required").WithField("name")
	}

	now := s.now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = plan.StatusPending
	}
	if !p.Status.IsValid() {
		return errors.NewValidationError("unknown plan status").WithField("status").WithValue(string(p.Status))
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	seen := make(map[int]bool, len(steps))
	for i := range steps {
		st := &steps[i]
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		st.PlanID = p.ID
		if st.Status == "" {
			st.Status = plan.StepPending
		}
		if !st.Type.IsValid() {
			return errors.NewValidationError("unknown step type").WithField("type").WithValue(string(st.Type))
		}
		if seen[st.OrderNum] {
			return errors.NewValidationError("duplicate step order number").WithField("order_num").WithValue(fmt.Sprint(st.OrderNum))
		}
		seen[st.OrderNum] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	checkpointJSON, err := marshalNullable(p.Checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO plans (id, owner_id, name, goal, "trigger", status, checkpoint, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.Goal, p.Trigger, string(p.Status), checkpointJSON, p.Progress,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for i := range steps {
		st := &steps[i]
		inputJSON, err := marshalNullable(st.Input)
		if err != nil {
			return fmt.Errorf("encode step input: %w", err)
		}
		outputJSON, err := marshalNullable(st.Output)
		if err != nil {
			return fmt.Errorf("encode step output: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO steps (id, plan_id, order_num, type, name, status, input, output, error, started_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, st.PlanID, st.OrderNum, string(st.Type), st.Name, string(st.Status),
			inputJSON, outputJSON, st.Error, formatTimePtr(st.StartedAt), formatTimePtr(st.CompletedAt))
		if err != nil {
			return fmt.Errorf("insert step %d: %w", st.OrderNum, err)
		}
	}

	return tx.Commit()
}

// GetPlan returns the plan by ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, goal, "trigger", status, checkpoint, progress, created_at, updated_at
		 FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	return p, nil
}

// ListPlans returns plans matching the filter, newest first.
func (s *SQLiteStore) ListPlans(ctx context.Context, filter ListFilter) ([]plan.Plan, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Goal != "" {
		conds = append(conds, "goal LIKE ?")
		args = append(args, "%"+filter.Goal+"%")
	}
	if filter.Trigger != "" {
		conds = append(conds, `"trigger" = ?`)
		args = append(args, filter.Trigger)
	}

	query := `SELECT id, owner_id, name, goal, "trigger", status, checkpoint, progress, created_at, updated_at FROM plans`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// UpdatePlanStatus transitions the plan's status, optionally replacing the
// checkpoint in the same write.
func (s *SQLiteStore) UpdatePlanStatus(ctx context.Context, id string, status plan.Status, checkpoint *plan.Checkpoint) error {
	if !status.IsValid() {
		return errors.NewValidationError("unknown plan status").WithField("status").WithValue(string(status))
	}

	var (
		res sql.Result
		err error
	)
	if checkpoint != nil {
		var checkpointJSON any
		checkpointJSON, err = marshalNullable(checkpoint)
		if err != nil {
			return fmt.Errorf("encode checkpoint: %w", err)
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE plans SET status = ?, checkpoint = ?, updated_at = ? WHERE id = ?`,
			string(status), checkpointJSON, formatTime(s.now().UTC()), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), formatTime(s.now().UTC()), id)
	}
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	return requireAffected(res, "plan", id)
}

// UpdatePlan applies a partial metadata update. Running plans are
// protected; pause or abort them first.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, id string, update PlanUpdate) error {
	if update.empty() {
		return errors.NewValidationError("plan update has no fields")
	}
	if update.Name != nil && *update.Name == "" {
		return errors.NewValidationError("plan name is required").WithField("name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("plan", id)
	}
	if err != nil {
		return fmt.Errorf("query plan status: %w", err)
	}
	if plan.Status(status) == plan.StatusRunning {
		return errors.NewPlanError("cannot update a running plan", errors.ErrPlanRunning).WithPlanID(id)
	}

	var (
		sets []string
		args []any
	)
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Goal != nil {
		sets = append(sets, "goal = ?")
		args = append(args, *update.Goal)
	}
	if update.Trigger != nil {
		sets = append(sets, `"trigger" = ?`)
		args = append(args, *update.Trigger)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now().UTC()), id)

	if _, err := tx.ExecContext(ctx,
		`UPDATE plans SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return tx.Commit()
}

// DeletePlan removes the plan, cascading to steps and history. Running
// plans are protected; abort them first.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("plan", id)
	}
	if err != nil {
		return fmt.Errorf("query plan status: %w", err)
	}
	if plan.Status(status) == plan.StatusRunning {
		return errors.NewPlanError("cannot delete a running plan", errors.ErrPlanRunning).WithPlanID(id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return tx.Commit()
}

// -----------------------------------------------------------------------------
// Steps
// -----------------------------------------------------------------------------

// GetSteps returns the plan's steps in execution order.
func (s *SQLiteStore) GetSteps(ctx context.Context, planID string) ([]plan.Step, error) {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plan_id, order_num, type, name, status, input, output, error, started_at, completed_at
		 FROM steps WHERE plan_id = ? ORDER BY order_num ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []plan.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, *st)
	}
	return steps, rows.Err()
}

// GetStep returns a single step by ID.
func (s *SQLiteStore) GetStep(ctx context.Context, stepID string) (*plan.Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, plan_id, order_num, type, name, status, input, output, error, started_at, completed_at
		 FROM steps WHERE id = ?`, stepID)
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("step", stepID)
	}
	if err != nil {
		return nil, fmt.Errorf("query step: %w", err)
	}
	return st, nil
}

// UpdateStep applies a partial update to a step.
func (s *SQLiteStore) UpdateStep(ctx context.Context, stepID string, update StepUpdate) error {
	var (
		sets []string
		args []any
	)
	if update.Status != nil {
		if !update.Status.IsValid() {
			return errors.NewValidationError("unknown step status").WithField("status").WithValue(string(*update.Status))
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Input != nil {
		inputJSON, err := marshalNullable(update.Input)
		if err != nil {
			return fmt.Errorf("encode step input: %w", err)
		}
		sets = append(sets, "input = ?")
		args = append(args, inputJSON)
	}
	if update.Output != nil {
		outputJSON, err := marshalNullable(update.Output)
		if err != nil {
			return fmt.Errorf("encode step output: %w", err)
		}
		sets = append(sets, "output = ?")
		args = append(args, outputJSON)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, formatTimePtr(update.StartedAt))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, formatTimePtr(update.CompletedAt))
	}
	if len(sets) == 0 {
		return errors.NewValidationError("step update has no fields")
	}

	args = append(args, stepID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	return requireAffected(res, "step", stepID)
}

// ResetSteps returns non-completed steps at or after fromOrderNum to
// pending, clearing output, error, and timestamps.
func (s *SQLiteStore) ResetSteps(ctx context.Context, planID string, fromOrderNum int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps
		 SET status = ?, output = NULL, error = '', started_at = NULL, completed_at = NULL
		 WHERE plan_id = ? AND order_num >= ? AND status != ?`,
		string(plan.StepPending), planID, fromOrderNum, string(plan.StepCompleted))
	if err != nil {
		return 0, fmt.Errorf("reset steps: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count reset steps: %w", err)
	}
	return int(n), nil
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// AppendHistory records one event in the plan's audit trail.
func (s *SQLiteStore) AppendHistory(ctx context.Context, planID string, eventType plan.HistoryEventType, data map[string]any) error {
	dataJSON, err := marshalNullable(data)
	if err != nil {
		return fmt.Errorf("encode history data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history (id, plan_id, event, timestamp, data) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), planID, string(eventType), formatTime(s.now().UTC()), dataJSON)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns the plan's audit trail, oldest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, planID string) ([]plan.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plan_id, event, timestamp, data
		 FROM history WHERE plan_id = ? ORDER BY timestamp ASC, rowid ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var events []plan.HistoryEvent
	for rows.Next() {
		var (
			ev       plan.HistoryEvent
			event    string
			ts       string
			dataJSON sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.PlanID, &event, &ts, &dataJSON); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		ev.Event = plan.HistoryEventType(event)
		ev.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse history timestamp: %w", err)
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("decode history data: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecalculateProgress rederives and persists the plan's progress from its
// current step statuses.
func (s *SQLiteStore) RecalculateProgress(ctx context.Context, planID string) (int, error) {
	steps, err := s.GetSteps(ctx, planID)
	if err != nil {
		return 0, err
	}
	progress := plan.ComputeProgress(steps)

	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, formatTime(s.now().UTC()), planID)
	if err != nil {
		return 0, fmt.Errorf("update progress: %w", err)
	}
	if err := requireAffected(res, "plan", planID); err != nil {
		return 0, err
	}
	return progress, nil
}

// -----------------------------------------------------------------------------
// Scanning helpers
// -----------------------------------------------------------------------------

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*plan.Plan, error) {
	var (
		p              plan.Plan
		status         string
		checkpointJSON sql.NullString
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Goal, &p.Trigger, &status, &checkpointJSON, &p.Progress, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = plan.Status(status)
	if checkpointJSON.Valid && checkpointJSON.String != "" {
		var cp plan.Checkpoint
		if err := json.Unmarshal([]byte(checkpointJSON.String), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		p.Checkpoint = &cp
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &p, nil
}

func scanStep(row rowScanner) (*plan.Step, error) {
	var (
		st          plan.Step
		stepType    string
		status      string
		inputJSON   sql.NullString
		outputJSON  sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	err := row.Scan(&st.ID, &st.PlanID, &st.OrderNum, &stepType, &st.Name, &status,
		&inputJSON, &outputJSON, &st.Error, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	st.Type = plan.StepType(stepType)
	st.Status = plan.StepStatus(status)
	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &st.Input); err != nil {
			return nil, fmt.Errorf("decode step input: %w", err)
		}
	}
	if outputJSON.Valid && outputJSON.String != "" {
		if err := json.Unmarshal([]byte(outputJSON.String), &st.Output); err != nil {
			return nil, fmt.Errorf("decode step output: %w", err)
		}
	}
	if st.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if st.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &st, nil
}

// marshalNullable encodes v as JSON, mapping nil values to SQL NULL.
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *plan.Checkpoint:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func requireAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errors.NewNotFoundError(resource, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
