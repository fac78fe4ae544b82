/*
 * Copyright 2016 ClusterHQ
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package store is a SQLite-backed journal of delta runs: enough of a
// record to answer "when did this image last change, and by how much"
// without re-running the engine. It never feeds back into a delta
// computation; a run failing to journal itself is a diagnostic-only
// problem, never a reason to fail the run.
package store

import (
	"database/sql"
	"os"
	"time"

	"github.com/pborman/uuid"

	// registers the "sqlite3" driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/sectorimg/imgdelta/internal/ferrors"
)

const sqlDriverName = "sqlite3"

// txLocking is 'immediate': it buys query+update locking within a single
// transaction without a separate locking statement.
const txLocking = "immediate"

// Store is a run-history journal.
type Store struct {
	path string
	db   *sql.DB
}

// RunRecord is one delta computation's journal entry.
type RunRecord struct {
	ID               string
	StartedAt        time.Time
	FinishedAt       time.Time
	ImagePath        string
	OldSignaturePath string
	NewSignaturePath string
	HashKind         string
	DeltaRanges      int
	DeltaSectors     uint64
	SharedSectors    uint64
	ChangedSectors   uint64
	NewSectors       uint64
	OrigOnlySectors  uint64
	Err              string
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New()
}

// Create makes a brand new journal database at path, failing if one
// already exists there.
func Create(path string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "journal %s already exists", path)
	}

	db, err := sql.Open(sqlDriverName, "file:"+path+"?_txlock="+txLocking)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "creating journal %s: %v", path, err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{path: path, db: db}, nil
}

// Open opens an existing journal database.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "journal %s not found: %v", path, err)
	}

	db, err := sql.Open(sqlDriverName, "file:"+path+"?_txlock="+txLocking)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "opening journal %s: %v", path, err)
	}

	return &Store{path: path, db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`PRAGMA page_size = 4096`,
		`CREATE TABLE [run] (
			[id] text,
			[started_at] integer,
			[finished_at] integer,
			[image_path] text,
			[old_signature_path] text,
			[new_signature_path] text,
			[hash_kind] text,
			[delta_ranges] integer,
			[delta_sectors] integer,
			[shared_sectors] integer,
			[changed_sectors] integer,
			[new_sectors] integer,
			[origonly_sectors] integer,
			[error] text,
			PRIMARY KEY([id])
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return ferrors.Wrap(ferrors.ErrIoError, "creating journal schema: %v", err)
		}
	}
	return nil
}

// RecordRun inserts rec as a new journal entry.
func (s *Store) RecordRun(rec RunRecord) error {
	ins, err := s.db.Prepare(`
INSERT INTO [run] ([id], [started_at], [finished_at], [image_path], [old_signature_path],
	[new_signature_path], [hash_kind], [delta_ranges], [delta_sectors], [shared_sectors],
	[changed_sectors], [new_sectors], [origonly_sectors], [error])
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "preparing run insert: %v", err)
	}
	defer ins.Close()

	_, err = ins.Exec(
		rec.ID,
		rec.StartedAt.UnixNano(),
		rec.FinishedAt.UnixNano(),
		rec.ImagePath,
		rec.OldSignaturePath,
		rec.NewSignaturePath,
		rec.HashKind,
		rec.DeltaRanges,
		rec.DeltaSectors,
		rec.SharedSectors,
		rec.ChangedSectors,
		rec.NewSectors,
		rec.OrigOnlySectors,
		rec.Err,
	)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "recording run %s: %v", rec.ID, err)
	}
	return nil
}

// GetRun looks up a single run by ID.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
SELECT [id], [started_at], [finished_at], [image_path], [old_signature_path], [new_signature_path],
	[hash_kind], [delta_ranges], [delta_sectors], [shared_sectors], [changed_sectors], [new_sectors],
	[origonly_sectors], [error]
FROM [run] WHERE [id] = ?
`, id)

	var rec RunRecord
	var started, finished int64
	err := row.Scan(
		&rec.ID, &started, &finished, &rec.ImagePath, &rec.OldSignaturePath, &rec.NewSignaturePath,
		&rec.HashKind, &rec.DeltaRanges, &rec.DeltaSectors, &rec.SharedSectors, &rec.ChangedSectors,
		&rec.NewSectors, &rec.OrigOnlySectors, &rec.Err,
	)
	if err == sql.ErrNoRows {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature, "no such run %s", id)
	}
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "reading run %s: %v", id, err)
	}

	rec.StartedAt = time.Unix(0, started)
	rec.FinishedAt = time.Unix(0, finished)
	return &rec, nil
}

// ListRuns returns the most recent runs, newest first, at most limit of
// them (limit <= 0 means unlimited).
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
SELECT [id], [started_at], [finished_at], [image_path], [old_signature_path], [new_signature_path],
	[hash_kind], [delta_ranges], [delta_sectors], [shared_sectors], [changed_sectors], [new_sectors],
	[origonly_sectors], [error]
FROM [run] ORDER BY [started_at] DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "listing runs: %v", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, finished int64
		if err := rows.Scan(
			&rec.ID, &started, &finished, &rec.ImagePath, &rec.OldSignaturePath, &rec.NewSignaturePath,
			&rec.HashKind, &rec.DeltaRanges, &rec.DeltaSectors, &rec.SharedSectors, &rec.ChangedSectors,
			&rec.NewSectors, &rec.OrigOnlySectors, &rec.Err,
		); err != nil {
			return nil, ferrors.Wrap(ferrors.ErrIoError, "scanning run row: %v", err)
		}
		rec.StartedAt = time.Unix(0, started)
		rec.FinishedAt = time.Unix(0, finished)
		out = append(out, rec)
	}
	return out, nil
}
