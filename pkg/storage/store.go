package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store owns the session/frame/app-state records (SQLite) and the per-session
// frame directories (filesystem) under the timelapse root.
type Store struct {
	db        *sql.DB
	dbPath    string
	root      string
	stmtCache map[string]*sql.Stmt
	stmtMutex sync.RWMutex

	// stateMu serializes read-modify-write cycles on the app_state row so
	// concurrent partial updates cannot lose each other's fields.
	stateMu sync.Mutex
}

// NewStore creates a Store persisting metadata under dataDir and frames under
// timelapseRoot.
func NewStore(dataDir, timelapseRoot string) *Store {
	return &Store{
		dbPath:    filepath.Join(dataDir, "timelapser.db"),
		root:      timelapseRoot,
		stmtCache: make(map[string]*sql.Stmt),
	}
}

// Root returns the timelapse root directory holding session subdirectories.
func (s *Store) Root() string {
	return s.root
}

// Initialize creates the directories and database and runs migrations.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
		return NewStorageError(ErrFileSystem, "failed to create data directory", err)
	}
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return NewStorageError(ErrFileSystem, "failed to create timelapse directory", err)
	}

	// WAL mode with foreign keys so frame rows follow their session on delete.
	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return NewStorageError(ErrDatabase, "failed to open database", err)
	}
	s.db = db

	// SQLite works best with a single writer.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.runIntegrityCheck(); err != nil {
		return err
	}
	if err := s.runMigrations(); err != nil {
		return err
	}
	return nil
}

// runIntegrityCheck runs PRAGMA integrity_check on the database.
func (s *Store) runIntegrityCheck() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return NewStorageError(ErrDatabase, "integrity check failed", err)
	}
	if result != "ok" {
		return NewStorageError(ErrDatabase, fmt.Sprintf("database corruption detected: %s", result), nil)
	}
	return nil
}

// Close closes the database connection and all prepared statements.
func (s *Store) Close() error {
	s.stmtMutex.Lock()
	defer s.stmtMutex.Unlock()

	for _, stmt := range s.stmtCache {
		stmt.Close()
	}
	s.stmtCache = make(map[string]*sql.Stmt)

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// getStmt returns a cached prepared statement or creates a new one.
func (s *Store) getStmt(query string) (*sql.Stmt, error) {
	s.stmtMutex.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtMutex.RUnlock()

	if ok {
		return stmt, nil
	}

	s.stmtMutex.Lock()
	defer s.stmtMutex.Unlock()

	// Double-check after acquiring write lock
	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}

	s.stmtCache[query] = stmt
	return stmt, nil
}
