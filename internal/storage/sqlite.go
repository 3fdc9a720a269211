// Package storage keeps a local SQLite cache of swatbot builds, collections
// and failures, cutting repeat server requests between sessions.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/swattool/swattool-go/internal/buildbot"
	"github.com/swattool/swattool-go/internal/swatbot"
)

// Database configuration constants
const (
	// busyTimeoutMs is how long SQLite waits when the database is locked
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns = 1
	// maxIdleConns is the number of idle connections to keep
	maxIdleConns = 1
	// connMaxLifetime is how long a connection can be reused
	connMaxLifetime = 30 * time.Minute
)

// currentSchemaVersion is the latest schema version. Increment when adding
// new migrations.
const currentSchemaVersion = 2

// Store handles database operations.
type Store struct {
	db *sql.DB
}

var _ buildbot.MetaStore = (*Store)(nil)

// New opens (creating if needed) the metadata cache database.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	version := s.getSchemaVersion()
	if err := s.migrateSchema(version); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

func (s *Store) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

func (s *Store) migrateSchema(fromVersion int) error {
	if fromVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}
	if fromVersion < 2 {
		if err := s.migrateV2(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) setSchemaVersion(version int) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, version)
	return err
}

// migrateV1 creates the initial tables.
func (s *Store) migrateV1() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS build (
			build_id INTEGER PRIMARY KEY,
			buildbot_build_id INTEGER,
			status INTEGER,
			test TEXT,
			worker TEXT,
			completed TEXT,
			collection_id INTEGER,
			ab_url TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS collection (
			collection_id INTEGER PRIMARY KEY,
			owner TEXT,
			branch TEXT,
			collection_build_id INTEGER,
			target_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS failure (
			failure_id INTEGER PRIMARY KEY,
			build_id INTEGER,
			step_number INTEGER,
			step_name TEXT,
			urls TEXT,
			remote_triage INTEGER,
			remote_triage_notes TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS logs_data (
			ab_instance TEXT,
			logid INTEGER,
			build_id INTEGER,
			step_number INTEGER,
			logname TEXT,
			num_lines INTEGER,
			UNIQUE(ab_instance, build_id, step_number, logname)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return s.setSchemaVersion(1)
}

// migrateV2 adds the triage filter index used by every pending-builds query.
func (s *Store) migrateV2() error {
	if _, err := s.db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_failure_triage ON failure(remote_triage)`,
	); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return s.setSchemaVersion(2)
}

// AddFailures inserts failure records, keeping existing rows untouched.
func (s *Store) AddFailures(records []swatbot.StepFailureRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO failure (failure_id, build_id, step_number, step_name,
			urls, remote_triage, remote_triage_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(failure_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		urls, err := json.Marshal(r.URLs)
		if err != nil {
			return fmt.Errorf("failed to encode log URLs: %w", err)
		}
		if _, err := stmt.Exec(r.ID, r.BuildID, r.StepNumber, r.StepName,
			string(urls), int(r.Triage), r.TriageNotes); err != nil {
			return fmt.Errorf("failed to insert failure %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// DropFailures removes failures, all of them or only those with a given
// remote triage status.
func (s *Store) DropFailures(triage *swatbot.TriageStatus) error {
	query := `DELETE FROM failure`
	var args []any
	if triage != nil {
		query += ` WHERE remote_triage = ?`
		args = append(args, int(*triage))
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to drop failures: %w", err)
	}
	return nil
}

// AddBuild inserts one build record.
func (s *Store) AddBuild(rec *swatbot.BuildRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO build (build_id, buildbot_build_id, status,
			test, worker, completed, collection_id, ab_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.BuildbotID, int(rec.Status), rec.Test, rec.Worker,
		rec.Completed.Format(time.RFC3339), rec.CollectionID, rec.AutobuilderURL)
	if err != nil {
		return fmt.Errorf("failed to insert build %d: %w", rec.ID, err)
	}
	return nil
}

// AddCollection inserts one collection record.
func (s *Store) AddCollection(rec *swatbot.CollectionRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO collection (collection_id, owner, branch,
			collection_build_id, target_name)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Owner, rec.Branch, rec.BuildID, rec.TargetName)
	if err != nil {
		return fmt.Errorf("failed to insert collection %d: %w", rec.ID, err)
	}
	return nil
}

// KnownBuildIDs returns the ids of all cached builds.
func (s *Store) KnownBuildIDs() (map[int]bool, error) {
	return s.idSet(`SELECT build_id FROM build`)
}

// KnownCollectionIDs returns the ids of all cached collections.
func (s *Store) KnownCollectionIDs() (map[int]bool, error) {
	return s.idSet(`SELECT collection_id FROM collection`)
}

func (s *Store) idSet(query string) (map[int]bool, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// MissingBuildIDs returns build ids referenced by failures but absent from
// the build table.
func (s *Store) MissingBuildIDs() ([]int, error) {
	rows, err := s.db.Query(`
		SELECT failure.build_id FROM failure
		LEFT JOIN build ON failure.build_id = build.build_id
		WHERE build.build_id IS NULL
		GROUP BY failure.build_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing builds: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan build id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CollectionRef points at a collection yet to be fetched, with the
// autobuilder URL needed to resolve its parent build.
type CollectionRef struct {
	ID             int
	AutobuilderURL string
}

// MissingCollections returns collections referenced by builds but absent
// from the collection table.
func (s *Store) MissingCollections() ([]CollectionRef, error) {
	rows, err := s.db.Query(`
		SELECT build.collection_id, build.ab_url FROM failure
		LEFT JOIN build ON failure.build_id = build.build_id
		LEFT JOIN collection ON build.collection_id = collection.collection_id
		WHERE collection.collection_id IS NULL
		AND build.collection_id IS NOT NULL
		GROUP BY build.collection_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing collections: %w", err)
	}
	defer rows.Close()

	var refs []CollectionRef
	for rows.Next() {
		var ref CollectionRef
		if err := rows.Scan(&ref.ID, &ref.AutobuilderURL); err != nil {
			return nil, fmt.Errorf("failed to scan collection ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Builds assembles the full build model for failures matching the triage
// filter, joining failures with their builds and collections. The keys of
// the returned map are swatbot build ids; swatURLBase is the swatbot server
// base URL used to derive collection page links.
func (s *Store) Builds(triage []swatbot.TriageStatus, limit int, swatURLBase string) (map[int]*swatbot.Build, error) {
	query := `
		SELECT failure.failure_id, failure.build_id, failure.step_number,
			failure.step_name, failure.urls, failure.remote_triage,
			failure.remote_triage_notes,
			build.buildbot_build_id, build.status, build.test, build.worker,
			build.completed, build.collection_id, build.ab_url,
			collection.owner, collection.branch
		FROM failure
		LEFT JOIN build ON failure.build_id = build.build_id
		LEFT JOIN collection ON build.collection_id = collection.collection_id
	`
	var args []any
	if len(triage) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(triage)), ", ")
		query += ` WHERE failure.remote_triage IN (` + placeholders + `)`
		for _, t := range triage {
			args = append(args, int(t))
		}
	}
	query += ` ORDER BY failure.build_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer rows.Close()

	builds := make(map[int]*swatbot.Build)
	for rows.Next() {
		var (
			failureID, buildID, stepNumber, triageVal int
			stepName, urlsJSON, triageNotes           string
			buildbotID, status, collectionID          sql.NullInt64
			test, worker, completed, abURL            sql.NullString
			owner, branch                             sql.NullString
		)
		if err := rows.Scan(&failureID, &buildID, &stepNumber, &stepName,
			&urlsJSON, &triageVal, &triageNotes,
			&buildbotID, &status, &test, &worker, &completed,
			&collectionID, &abURL, &owner, &branch); err != nil {
			return nil, fmt.Errorf("failed to scan build row: %w", err)
		}

		build, ok := builds[buildID]
		if !ok {
			var completedAt time.Time
			if completed.Valid {
				completedAt, _ = time.Parse(time.RFC3339, completed.String)
			}
			build = &swatbot.Build{
				ID:             int(buildbotID.Int64),
				Status:         swatbot.StatusFromInt(int(status.Int64)),
				Test:           test.String,
				Worker:         worker.String,
				Owner:          owner.String,
				Branch:         branch.String,
				Completed:      completedAt,
				SwatURL:        fmt.Sprintf("%s/collection/%d/", swatURLBase, collectionID.Int64),
				AutobuilderURL: abURL.String,
				Failures:       make(map[int]*swatbot.Failure),
			}
			builds[buildID] = build
		}

		var urls map[string]string
		if err := json.Unmarshal([]byte(urlsJSON), &urls); err != nil {
			urls = map[string]string{}
		}
		build.Failures[failureID] = &swatbot.Failure{
			ID:          failureID,
			Build:       build,
			StepNumber:  stepNumber,
			StepName:    stepName,
			Status:      build.Status,
			URLs:        urls,
			Triage:      swatbot.TriageStatus(triageVal),
			TriageNotes: triageNotes,
		}
	}
	return builds, rows.Err()
}

// LogData returns cached log metadata, if present.
func (s *Store) LogData(abInstance string, buildID, stepNumber int, logname string) (buildbot.LogData, bool) {
	var data buildbot.LogData
	err := s.db.QueryRow(`
		SELECT logid, num_lines FROM logs_data
		WHERE ab_instance = ? AND build_id = ? AND step_number = ? AND logname = ?
	`, abInstance, buildID, stepNumber, logname).Scan(&data.LogID, &data.NumLines)
	if err != nil {
		return buildbot.LogData{}, false
	}
	return data, true
}

// SaveLogData caches log metadata, replacing any previous entry for the same
// log.
func (s *Store) SaveLogData(abInstance string, buildID, stepNumber int, logname string, data buildbot.LogData) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO logs_data (ab_instance, logid, build_id,
			step_number, logname, num_lines)
		VALUES (?, ?, ?, ?, ?, ?)
	`, abInstance, data.LogID, buildID, stepNumber, logname, data.NumLines)
	if err != nil {
		return fmt.Errorf("failed to cache log metadata: %w", err)
	}
	return nil
}
