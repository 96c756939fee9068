package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ilp-connector/pkg/model"
)

const sqliteTimeout = 3 * time.Second

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS peers(id TEXT PRIMARY KEY, info TEXT NOT NULL, endpoint TEXT NOT NULL, updated_at INTEGER);
CREATE TABLE IF NOT EXISTS routes(prefix TEXT PRIMARY KEY, peer_id TEXT NOT NULL, path TEXT);
CREATE INDEX IF NOT EXISTS idx_routes_peer ON routes(peer_id);`

// SQLiteStore keeps peers and routes in a local SQLite file. Peer info and
// endpoint are stored as JSON documents.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// one connection: sqlite serialises writers anyway, and :memory: is per connection
	db.SetMaxOpenConns(1)
	s, err := newSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("sqlite init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ListPeers() ([]model.PeerRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT info, endpoint FROM peers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()
	var out []model.PeerRecord
	for rows.Next() {
		var info, ep string
		if err := rows.Scan(&info, &ep); err != nil {
			return nil, err
		}
		var rec model.PeerRecord
		if err := json.Unmarshal([]byte(info), &rec.Info); err != nil {
			return nil, fmt.Errorf("decode peer: %w", err)
		}
		if err := json.Unmarshal([]byte(ep), &rec.Endpoint); err != nil {
			return nil, fmt.Errorf("decode endpoint of %s: %w", rec.Info.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SavePeer(p model.PeerRecord) error {
	info, err := json.Marshal(p.Info)
	if err != nil {
		return err
	}
	ep, err := json.Marshal(p.Endpoint)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO peers(id, info, endpoint, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET info=excluded.info, endpoint=excluded.endpoint, updated_at=excluded.updated_at`,
		p.Info.ID, string(info), string(ep), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save peer %s: %w", p.Info.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeletePeer(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM peers WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete peer %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("peer %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE peer_id=?`, id); err != nil {
		return fmt.Errorf("delete routes of %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListRoutes() ([]model.Route, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT prefix, peer_id, path FROM routes ORDER BY prefix`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()
	var out []model.Route
	for rows.Next() {
		var r model.Route
		var path sql.NullString
		if err := rows.Scan(&r.Prefix, &r.PeerID, &path); err != nil {
			return nil, err
		}
		if path.Valid && path.String != "" {
			if err := json.Unmarshal([]byte(path.String), &r.Path); err != nil {
				return nil, fmt.Errorf("decode route path: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveRoute(r model.Route) error {
	var path sql.NullString
	if len(r.Path) > 0 {
		b, err := json.Marshal(r.Path)
		if err != nil {
			return err
		}
		path = sql.NullString{String: string(b), Valid: true}
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routes(prefix, peer_id, path) VALUES(?,?,?)
		 ON CONFLICT(prefix) DO UPDATE SET peer_id=excluded.peer_id, path=excluded.path`,
		r.Prefix, r.PeerID, path)
	if err != nil {
		return fmt.Errorf("save route %q: %w", r.Prefix, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRoute(prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE prefix=?`, prefix)
	if err != nil {
		return fmt.Errorf("delete route %q: %w", prefix, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("route %q: %w", prefix, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
