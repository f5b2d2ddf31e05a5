package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store provides SQLite-backed persistence for construct state.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at dbPath and creates tables if they
// don't exist.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS constructs (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		workspace_path TEXT NOT NULL DEFAULT '',
		construct_path TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS timing_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		construct_id TEXT NOT NULL,
		step TEXT NOT NULL,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (construct_id) REFERENCES constructs(id)
	);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		id TEXT PRIMARY KEY,
		construct_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (construct_id) REFERENCES constructs(id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateConstruct inserts a new construct in draft status. When id is
// empty a new UUID is generated.
func (s *Store) CreateConstruct(id, templateID, name string) (*Construct, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()

	_, err := s.db.Exec(
		`INSERT INTO constructs (id, template_id, name, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '{}', ?, ?)`,
		id, templateID, name, StatusDraft, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert construct: %w", err)
	}

	return &Construct{
		ID:         id,
		TemplateID: templateID,
		Name:       name,
		Status:     StatusDraft,
		Metadata:   map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// GetConstruct retrieves a construct by ID. Returns (nil, nil) when no
// such construct exists.
func (s *Store) GetConstruct(id string) (*Construct, error) {
	row := s.db.QueryRow(
		`SELECT id, template_id, name, status, workspace_path, construct_path, metadata, created_at, updated_at
		 FROM constructs WHERE id = ?`,
		id,
	)
	return scanConstruct(row)
}

func scanConstruct(row *sql.Row) (*Construct, error) {
	var c Construct
	var metaJSON string
	err := row.Scan(&c.ID, &c.TemplateID, &c.Name, &c.Status, &c.WorkspacePath,
		&c.ConstructPath, &metaJSON, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan construct: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
		return nil, fmt.Errorf("parse construct metadata: %w", err)
	}
	return &c, nil
}

// ConstructUpdate is a partial update: nil fields are left unchanged.
// Metadata entries are merged into the existing map rather than
// replacing it.
type ConstructUpdate struct {
	Status        *Status
	WorkspacePath *string
	ConstructPath *string
	Metadata      map[string]string
}

// UpdateConstruct applies a partial update to a construct. A status
// change is validated against the construct lifecycle.
func (s *Store) UpdateConstruct(id string, update ConstructUpdate) (*Construct, error) {
	current, err := s.GetConstruct(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("construct %s not found", id)
	}

	if update.Status != nil {
		if !CanTransition(current.Status, *update.Status) {
			return nil, &ErrInvalidTransition{From: current.Status, To: *update.Status}
		}
		current.Status = *update.Status
	}
	if update.WorkspacePath != nil {
		current.WorkspacePath = *update.WorkspacePath
	}
	if update.ConstructPath != nil {
		current.ConstructPath = *update.ConstructPath
	}
	if len(update.Metadata) > 0 {
		if current.Metadata == nil {
			current.Metadata = map[string]string{}
		}
		for k, v := range update.Metadata {
			current.Metadata[k] = v
		}
	}
	current.UpdatedAt = time.Now()

	metaJSON, err := json.Marshal(current.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal construct metadata: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE constructs SET status = ?, workspace_path = ?, construct_path = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		current.Status, current.WorkspacePath, current.ConstructPath, string(metaJSON), current.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update construct: %w", err)
	}
	return current, nil
}

// ListConstructs returns all constructs, most recently updated first.
func (s *Store) ListConstructs() ([]Construct, error) {
	rows, err := s.db.Query(
		`SELECT id, template_id, name, status, workspace_path, construct_path, metadata, created_at, updated_at
		 FROM constructs ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query constructs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var constructs []Construct
	for rows.Next() {
		var c Construct
		var metaJSON string
		if err := rows.Scan(&c.ID, &c.TemplateID, &c.Name, &c.Status, &c.WorkspacePath,
			&c.ConstructPath, &metaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan construct: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("parse construct metadata: %w", err)
		}
		constructs = append(constructs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return constructs, nil
}

// AppendTimingStep records one step outcome in the audit trail.
func (s *Store) AppendTimingStep(step TimingStep) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO timing_steps (run_id, construct_id, step, outcome, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		step.RunID, step.ConstructID, step.Step, step.Outcome, step.Duration.Milliseconds(), step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert timing step: %w", err)
	}
	return nil
}

// TimingSteps returns the audit trail for a construct in insertion order.
func (s *Store) TimingSteps(constructID string) ([]TimingStep, error) {
	rows, err := s.db.Query(
		`SELECT run_id, construct_id, step, outcome, duration_ms, created_at
		 FROM timing_steps WHERE construct_id = ? ORDER BY id ASC`,
		constructID,
	)
	if err != nil {
		return nil, fmt.Errorf("query timing steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []TimingStep
	for rows.Next() {
		var st TimingStep
		var durationMS int64
		if err := rows.Scan(&st.RunID, &st.ConstructID, &st.Step, &st.Outcome, &durationMS, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timing step: %w", err)
		}
		st.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return steps, nil
}

// SaveSessionRecord upserts the agent session row for a construct.
func (s *Store) SaveSessionRecord(rec SessionRecord) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO agent_sessions (id, construct_id, provider_id, status, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, error = excluded.error, updated_at = excluded.updated_at`,
		rec.ID, rec.ConstructID, rec.ProviderID, rec.Status, rec.Error, now, now,
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// SessionRecordForConstruct returns the most recent agent session for a
// construct, or (nil, nil) when none exists.
func (s *Store) SessionRecordForConstruct(constructID string) (*SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, construct_id, provider_id, status, error, created_at, updated_at
		 FROM agent_sessions WHERE construct_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		constructID,
	)

	var rec SessionRecord
	err := row.Scan(&rec.ID, &rec.ConstructID, &rec.ProviderID, &rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session record: %w", err)
	}
	return &rec, nil
}
