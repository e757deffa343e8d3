// Package docstore provides the SQLite registry of uploaded documents and
// their indexing status.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned when a document record does not exist.
var ErrNotFound = errors.New("document not found")

// Store is the SQLite-backed document registry.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		owner_id TEXT,
		blob_key TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		vectors_total INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document record.
func (s *Store) CreateDocument(ctx context.Context, doc *models.DocumentRecord) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, owner_id, blob_key, size, status, vectors_total, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.OwnerID, doc.BlobKey, doc.Size, string(doc.Status), doc.VectorsTotal, doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// GetDocument returns a document record by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, owner_id, blob_key, size, status, vectors_total, error, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	return scanRecord(row)
}

// ListDocuments returns records ordered by creation time, newest first.
// When ownerID is non-empty, only that owner's documents are returned.
func (s *Store) ListDocuments(ctx context.Context, ownerID string) ([]*models.DocumentRecord, error) {
	query := `SELECT id, filename, owner_id, blob_key, size, status, vectors_total, error, created_at, updated_at
		 FROM documents`
	args := []interface{}{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.DocumentRecord
	for rows.Next() {
		doc, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetStatus updates a document's indexing status.
func (s *Store) SetStatus(ctx context.Context, id string, status models.RunState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetResult records the terminal outcome of an indexing run.
func (s *Store) SetResult(ctx context.Context, id string, status models.RunState, vectorsTotal int, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, vectors_total = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), vectorsTotal, errMsg, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteDocument removes a document record.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CountDocuments returns the number of registered documents.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.DocumentRecord, error) {
	var doc models.DocumentRecord
	var ownerID, errMsg sql.NullString
	err := row.Scan(&doc.ID, &doc.Filename, &ownerID, &doc.BlobKey, &doc.Size,
		&doc.Status, &doc.VectorsTotal, &errMsg, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	doc.OwnerID = ownerID.String
	doc.Error = errMsg.String
	return &doc, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
