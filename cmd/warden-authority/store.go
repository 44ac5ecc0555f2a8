// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/warden-foundation/warden/lib/authority"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/codec"
	"github.com/warden-foundation/warden/lib/sqlitepool"
)

// Store persists the authority's state in SQLite: the intentions table
// carries the decision workflow (proposed, pending, decided), and the
// trail table is the append-only audit record. Trail records form a
// hash chain — each record's BLAKE3 hash covers the previous record's
// hash plus the record's canonical CBOR encoding — so any mutation or
// deletion of history is detectable by replay.
//
// Writes go through IMMEDIATE transactions on a pooled connection.
// mu serializes appends: the chain can only extend one record at a
// time, and lastSeq/lastHash mirror the newest committed row.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	lastSeq  int64
	lastHash []byte
}

// StoreConfig holds the parameters for opening an authority store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// the sqlitepool default if zero.
	PoolSize int

	// Clock provides record timestamps.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Intention is a row in the intentions table.
type Intention struct {
	ID           int64
	AgentID      string
	ProposalText string
	ProposedAt   int64
	Decided      bool
	Approved     bool
	Reason       string
}

// storeSchema creates the authority tables on first open. Both
// statements are idempotent.
const storeSchema = `
	CREATE TABLE IF NOT EXISTS intentions (
		id            INTEGER PRIMARY KEY,
		agent_id      TEXT NOT NULL,
		proposal_text TEXT NOT NULL,
		proposed_at   INTEGER NOT NULL,
		decided       INTEGER NOT NULL DEFAULT 0,
		approved      INTEGER NOT NULL DEFAULT 0,
		reason        TEXT NOT NULL DEFAULT '',
		decided_at    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_intentions_undecided ON intentions(decided, id);

	CREATE TABLE IF NOT EXISTS trail (
		seq          INTEGER PRIMARY KEY,
		agent_id     TEXT NOT NULL,
		kind         TEXT NOT NULL,
		intention_id INTEGER NOT NULL DEFAULT 0,
		text         TEXT NOT NULL,
		is_error     INTEGER NOT NULL DEFAULT 0,
		approved     INTEGER NOT NULL DEFAULT 0,
		timestamp    INTEGER NOT NULL,
		hash         BLOB NOT NULL
	);
`

// OpenStore opens (creating if needed) the authority database and
// loads the tail of the hash chain so new appends continue it.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("authority store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("authority store: Logger is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("authority store: %w", err)
	}

	store := &Store{
		pool:   pool,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}

	if err := store.initialize(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("authority store: %w", err)
	}

	return store, nil
}

// initialize creates the schema and loads the newest trail row into
// lastSeq/lastHash. An empty trail leaves both at their zero values;
// the first append then chains from an empty previous hash.
func (s *Store) initialize(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, storeSchema, nil); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	err = sqlitex.Execute(conn,
		`SELECT seq, hash FROM trail ORDER BY seq DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				s.lastSeq = stmt.ColumnInt64(0)
				hash := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, hash)
				s.lastHash = hash
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("loading trail tail: %w", err)
	}

	if s.lastSeq > 0 {
		s.logger.Info("trail resumed", "records", s.lastSeq)
	}
	return nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Propose inserts a new intention and its trail record in one
// transaction. Returns the assigned intention ID and the appended
// record.
func (s *Store) Propose(ctx context.Context, agentID, proposalText string) (int64, authority.TrailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var intentionID int64
	var record authority.TrailRecord
	err := s.inTransaction(ctx, func(conn *sqlite.Conn) error {
		now := s.clock.Now().UnixNano()
		err := sqlitex.Execute(conn,
			`INSERT INTO intentions (agent_id, proposal_text, proposed_at) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{agentID, proposalText, now}})
		if err != nil {
			return fmt.Errorf("inserting intention: %w", err)
		}
		intentionID = conn.LastInsertRowID()

		record, err = s.appendRecord(conn, authority.TrailRecord{
			AgentID:     agentID,
			Kind:        authority.KindIntention,
			IntentionID: intentionID,
			Text:        proposalText,
			Timestamp:   now,
		})
		return err
	})
	if err != nil {
		return 0, authority.TrailRecord{}, fmt.Errorf("authority store: propose: %w", err)
	}

	s.lastSeq = record.Seq
	s.lastHash = record.Hash
	return intentionID, record, nil
}

// Decide marks an intention decided and appends the decision record.
// Fails if the intention does not exist or was already decided.
func (s *Store) Decide(ctx context.Context, intentionID int64, approved bool, reason string) (authority.TrailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record authority.TrailRecord
	err := s.inTransaction(ctx, func(conn *sqlite.Conn) error {
		var agentID string
		var decided, found bool
		err := sqlitex.Execute(conn,
			`SELECT agent_id, decided FROM intentions WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{intentionID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					agentID = stmt.ColumnText(0)
					decided = stmt.ColumnInt64(1) != 0
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("looking up intention %d: %w", intentionID, err)
		}
		if !found {
			return fmt.Errorf("unknown intention %d", intentionID)
		}
		if decided {
			return fmt.Errorf("intention %d is already decided", intentionID)
		}

		now := s.clock.Now().UnixNano()
		err = sqlitex.Execute(conn,
			`UPDATE intentions SET decided = 1, approved = ?, reason = ?, decided_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{boolColumn(approved), reason, now, intentionID}})
		if err != nil {
			return fmt.Errorf("updating intention %d: %w", intentionID, err)
		}

		record, err = s.appendRecord(conn, authority.TrailRecord{
			AgentID:     agentID,
			Kind:        authority.KindDecision,
			IntentionID: intentionID,
			Text:        reason,
			Approved:    approved,
			Timestamp:   now,
		})
		return err
	})
	if err != nil {
		return authority.TrailRecord{}, fmt.Errorf("authority store: decide: %w", err)
	}

	s.lastSeq = record.Seq
	s.lastHash = record.Hash
	return record, nil
}

// AppendLog appends an inference or action-output record. The
// intention is not checked for existence: log calls referring to
// intentions proposed before an authority restart still land on the
// trail.
func (s *Store) AppendLog(ctx context.Context, agentID, kind string, intentionID int64, text string, isError bool) (authority.TrailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record authority.TrailRecord
	err := s.inTransaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		record, err = s.appendRecord(conn, authority.TrailRecord{
			AgentID:     agentID,
			Kind:        kind,
			IntentionID: intentionID,
			Text:        text,
			IsError:     isError,
			Timestamp:   s.clock.Now().UnixNano(),
		})
		return err
	})
	if err != nil {
		return authority.TrailRecord{}, fmt.Errorf("authority store: append %s: %w", kind, err)
	}

	s.lastSeq = record.Seq
	s.lastHash = record.Hash
	return record, nil
}

// Intention returns the intention with the given ID, or nil if no
// such intention exists.
func (s *Store) Intention(ctx context.Context, id int64) (*Intention, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("authority store: intention: %w", err)
	}
	defer s.pool.Put(conn)

	var intention *Intention
	err = sqlitex.Execute(conn,
		`SELECT id, agent_id, proposal_text, proposed_at, decided, approved, reason
		 FROM intentions WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				intention = &Intention{
					ID:           stmt.ColumnInt64(0),
					AgentID:      stmt.ColumnText(1),
					ProposalText: stmt.ColumnText(2),
					ProposedAt:   stmt.ColumnInt64(3),
					Decided:      stmt.ColumnInt64(4) != 0,
					Approved:     stmt.ColumnInt64(5) != 0,
					Reason:       stmt.ColumnText(6),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("authority store: intention %d: %w", id, err)
	}
	return intention, nil
}

// PendingIntentions returns all undecided intentions, oldest first.
func (s *Store) PendingIntentions(ctx context.Context) ([]authority.PendingIntention, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("authority store: pending: %w", err)
	}
	defer s.pool.Put(conn)

	var pending []authority.PendingIntention
	err = sqlitex.Execute(conn,
		`SELECT id, agent_id, proposal_text, proposed_at
		 FROM intentions WHERE decided = 0 ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				pending = append(pending, authority.PendingIntention{
					ID:           stmt.ColumnInt64(0),
					AgentID:      stmt.ColumnText(1),
					ProposalText: stmt.ColumnText(2),
					ProposedAt:   stmt.ColumnInt64(3),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("authority store: pending: %w", err)
	}
	return pending, nil
}

// PendingCount returns the number of undecided intentions.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("authority store: pending count: %w", err)
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM intentions WHERE decided = 0`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = int(stmt.ColumnInt64(0))
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("authority store: pending count: %w", err)
	}
	return count, nil
}

// TrailCount returns the number of persisted trail records. Sequence
// numbers have no gaps, so the newest sequence number is the count.
func (s *Store) TrailCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Records calls fn for every trail record with Seq greater than
// sinceSeq, in sequence order. An error from fn stops the scan and is
// returned.
func (s *Store) Records(ctx context.Context, sinceSeq int64, fn func(authority.TrailRecord) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("authority store: records: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`SELECT seq, agent_id, kind, intention_id, text, is_error, approved, timestamp, hash
		 FROM trail WHERE seq > ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{sinceSeq},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				hash := make([]byte, stmt.ColumnLen(8))
				stmt.ColumnBytes(8, hash)
				return fn(authority.TrailRecord{
					Seq:         stmt.ColumnInt64(0),
					AgentID:     stmt.ColumnText(1),
					Kind:        stmt.ColumnText(2),
					IntentionID: stmt.ColumnInt64(3),
					Text:        stmt.ColumnText(4),
					IsError:     stmt.ColumnInt64(5) != 0,
					Approved:    stmt.ColumnInt64(6) != 0,
					Timestamp:   stmt.ColumnInt64(7),
					Hash:        hash,
				})
			},
		})
}

// errStopScan aborts a Records scan early without reporting a failure.
var errStopScan = errors.New("stop scan")

// Verify replays the whole trail and recomputes the hash chain.
// Returns the sequence number of the first record whose stored hash
// or position does not match, or zero when the chain is intact.
func (s *Store) Verify(ctx context.Context) (int64, error) {
	var mismatch int64
	var previousHash []byte
	nextSeq := int64(1)

	err := s.Records(ctx, 0, func(record authority.TrailRecord) error {
		if record.Seq != nextSeq {
			mismatch = nextSeq
			return errStopScan
		}
		expected, err := chainHash(previousHash, record)
		if err != nil {
			return err
		}
		if !bytes.Equal(expected, record.Hash) {
			mismatch = record.Seq
			return errStopScan
		}
		previousHash = record.Hash
		nextSeq++
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return 0, err
	}
	return mismatch, nil
}

// appendRecord assigns the next sequence number, computes the chain
// hash, and inserts the record. The caller holds s.mu and an open
// transaction, and advances lastSeq/lastHash only after the
// transaction commits.
func (s *Store) appendRecord(conn *sqlite.Conn, record authority.TrailRecord) (authority.TrailRecord, error) {
	record.Seq = s.lastSeq + 1

	hash, err := chainHash(s.lastHash, record)
	if err != nil {
		return authority.TrailRecord{}, err
	}
	record.Hash = hash

	err = sqlitex.Execute(conn,
		`INSERT INTO trail (seq, agent_id, kind, intention_id, text, is_error, approved, timestamp, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.Seq,
				record.AgentID,
				record.Kind,
				record.IntentionID,
				record.Text,
				boolColumn(record.IsError),
				boolColumn(record.Approved),
				record.Timestamp,
				record.Hash,
			},
		})
	if err != nil {
		return authority.TrailRecord{}, fmt.Errorf("inserting trail record %d: %w", record.Seq, err)
	}
	return record, nil
}

// chainHash computes a record's chain hash: BLAKE3 over the previous
// record's hash followed by the record's canonical CBOR encoding with
// Hash unset. The first record chains from an empty previous hash.
func chainHash(previousHash []byte, record authority.TrailRecord) ([]byte, error) {
	record.Hash = nil
	canonical, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding trail record %d: %w", record.Seq, err)
	}

	hasher := blake3.New()
	hasher.Write(previousHash)
	hasher.Write(canonical)
	return hasher.Sum(nil), nil
}

// inTransaction runs fn inside an IMMEDIATE transaction on a pooled
// connection. The named return lets the deferred commit report its
// own failure.
func (s *Store) inTransaction(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endTransaction(&err)

	return fn(conn)
}

// boolColumn converts a bool to its INTEGER column value.
func boolColumn(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
