package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"geiger/api/internal/realtime"
)

// ErrNotFound is returned when a session or board row does not exist.
var ErrNotFound = errors.New("not found")

// PostgresStore is the session row store. Every committed write to a collab
// row is followed by a publish of the fresh row on the change feed, so the
// store behaves like a backend with a built-in change feed: all connected
// clients, including the writer, observe the update.
type PostgresStore struct {
	db  *sql.DB
	bus realtime.Bus
}

func NewPostgresStore(db *sql.DB, bus realtime.Bus) *PostgresStore {
	return &PostgresStore{db: db, bus: bus}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sessionColumns = `id, code, host, joiners, state_nodes, state_edges, created_at, updated_at`

func scanSession(row *sql.Row) (Session, error) {
	var sess Session
	var joiners []byte
	err := row.Scan(&sess.ID, &sess.Code, &sess.Host, &joiners,
		&sess.StateNodes, &sess.StateEdges, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(joiners, &sess.Joiners); err != nil {
		return Session{}, fmt.Errorf("decode joiners: %w", err)
	}
	if sess.Joiners == nil {
		sess.Joiners = map[string]Joiner{}
	}
	return sess, nil
}

// InsertSession creates a collaboration row. A missing id is filled with a
// fresh UUID. The stored row is returned.
func (s *PostgresStore) InsertSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Joiners == nil {
		sess.Joiners = map[string]Joiner{}
	}
	joiners, err := json.Marshal(sess.Joiners)
	if err != nil {
		return Session{}, fmt.Errorf("encode joiners: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO collab (id, code, host, joiners, state_nodes, state_edges)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+sessionColumns,
		sess.ID, sess.Code, sess.Host, joiners, sess.StateNodes, sess.StateEdges)
	inserted, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM collab WHERE id=$1`, sessionID)
	return scanSession(row)
}

// LookupSessionByCode resolves a shareable join code to a session id.
func (s *PostgresStore) LookupSessionByCode(ctx context.Context, code string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM collab WHERE code=$1`, code).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup session by code: %w", err)
	}
	return sessionID, nil
}

// UpdateSessionState replaces both graph snapshots together. The fields are
// never written independently so a reader can never observe nodes from one
// save paired with edges from another.
func (s *PostgresStore) UpdateSessionState(ctx context.Context, sessionID, stateNodes, stateEdges string) error {
	row := s.db.QueryRowContext(ctx, `
		UPDATE collab
		SET state_nodes=$2, state_edges=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+sessionColumns,
		sessionID, stateNodes, stateEdges)
	updated, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update session state: %w", err)
	}
	s.publishRow(ctx, updated)
	return nil
}

// UpdateSessionJoiners replaces the whole membership map.
func (s *PostgresStore) UpdateSessionJoiners(ctx context.Context, sessionID string, joiners map[string]Joiner) error {
	if joiners == nil {
		joiners = map[string]Joiner{}
	}
	encoded, err := json.Marshal(joiners)
	if err != nil {
		return fmt.Errorf("encode joiners: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE collab
		SET joiners=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+sessionColumns,
		sessionID, encoded)
	updated, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update session joiners: %w", err)
	}
	s.publishRow(ctx, updated)
	return nil
}

// publishRow announces a committed row on the change feed. A feed failure is
// logged but never fails the write: the row is durable, peers recover on the
// next update.
func (s *PostgresStore) publishRow(ctx context.Context, sess Session) {
	if s.bus == nil {
		return
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		log.Printf("encode session %s for change feed: %v", sess.ID, err)
		return
	}
	if err := s.bus.PublishRowChange(ctx, sess.ID, raw); err != nil {
		log.Printf("publish change for session %s: %v", sess.ID, err)
	}
}

// GetBoard loads a user's private canvas.
func (s *PostgresStore) GetBoard(ctx context.Context, ownerID, boardID string) (Board, error) {
	var b Board
	var nodes, edges, viewport sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, state_nodes, state_edges, state_viewport, updated_at
		FROM boards WHERE owner_id=$1 AND id=$2
	`, ownerID, boardID).Scan(&b.ID, &b.OwnerID, &nodes, &edges, &viewport, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrNotFound
	}
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}
	b.StateNodes = nodes.String
	b.StateEdges = edges.String
	b.StateViewport = viewport.String
	return b, nil
}

// SaveBoard upserts the full private canvas snapshot, viewport included.
func (s *PostgresStore) SaveBoard(ctx context.Context, b Board) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, owner_id, state_nodes, state_edges, state_viewport, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (owner_id, id) DO UPDATE
		SET state_nodes=EXCLUDED.state_nodes,
			state_edges=EXCLUDED.state_edges,
			state_viewport=EXCLUDED.state_viewport,
			updated_at=NOW()
	`, b.ID, b.OwnerID, b.StateNodes, b.StateEdges, b.StateViewport)
	if err != nil {
		return fmt.Errorf("save board: %w", err)
	}
	return nil
}
