package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"geiger/api/internal/auth"
	"geiger/api/internal/board"
	"geiger/api/internal/collab"
	"geiger/api/internal/config"
	"geiger/api/internal/realtime"
	"geiger/api/internal/store"
)

// DefaultBoardID names the single private canvas each user owns.
const DefaultBoardID = "main"

// BoardState is the full private canvas payload, camera included.
type BoardState struct {
	Nodes    []board.Node   `json:"nodes"`
	Edges    []board.Edge   `json:"edges"`
	Viewport board.Viewport `json:"viewport"`
}

type dataStore interface {
	Ping(context.Context) error
	InsertSession(context.Context, store.Session) (store.Session, error)
	GetSession(context.Context, string) (store.Session, error)
	LookupSessionByCode(context.Context, string) (string, error)
	UpdateSessionState(ctx context.Context, sessionID, stateNodes, stateEdges string) error
	UpdateSessionJoiners(ctx context.Context, sessionID string, joiners map[string]store.Joiner) error
	GetBoard(ctx context.Context, ownerID, boardID string) (store.Board, error)
	SaveBoard(context.Context, store.Board) error
}

type Service struct {
	cfg   config.Config
	store dataStore
	bus   realtime.Bus

	// busPing is set when the bus has a backing server worth health checking.
	busPing func(context.Context) error

	mu          sync.Mutex
	boardSavers map[string]*collab.Saver
	closed      bool
}

func NewService(cfg config.Config, st dataStore, bus realtime.Bus) *Service {
	return &Service{
		cfg:         cfg,
		store:       st,
		bus:         bus,
		boardSavers: make(map[string]*collab.Saver),
	}
}

// SetBusPing registers a realtime backend health check for /api/ready.
func (s *Service) SetBusPing(ping func(context.Context) error) {
	s.busPing = ping
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingBus(ctx context.Context) error {
	if s.busPing == nil {
		return nil
	}
	return s.busPing(ctx)
}

// IdentityFromToken verifies a bearer token and returns the identity it
// carries.
func (s *Service) IdentityFromToken(token string) (auth.Identity, error) {
	return auth.ParseToken([]byte(s.cfg.AuthSecret), token)
}

// CreateCollabSession provisions a new collaboration row with the caller as
// host, the sanitized initial snapshot, and a fresh shareable code.
func (s *Service) CreateCollabSession(ctx context.Context, user auth.Identity, nodes []board.Node, edges []board.Edge) (store.Session, error) {
	if user.Sub == "" {
		return store.Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if err := board.ValidateNodes(nodes); err != nil {
		return store.Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if err := board.ValidateEdges(edges); err != nil {
		return store.Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	stateNodes, err := board.EncodeNodes(board.SanitizeNodes(nodes))
	if err != nil {
		return store.Session{}, fmt.Errorf("create collab session: %w", err)
	}
	stateEdges, err := board.EncodeEdges(board.SanitizeEdges(edges))
	if err != nil {
		return store.Session{}, fmt.Errorf("create collab session: %w", err)
	}

	sess, err := s.store.InsertSession(ctx, store.Session{
		Code:       collab.NewSessionCode(),
		Host:       user.Sub,
		Joiners:    map[string]store.Joiner{},
		StateNodes: stateNodes,
		StateEdges: stateEdges,
	})
	if err != nil {
		return store.Session{}, fmt.Errorf("create collab session: %w", err)
	}
	return sess, nil
}

// LookupCode resolves a shareable join code to its session id.
func (s *Service) LookupCode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", "code is required", nil)
	}
	sessionID, err := s.store.LookupSessionByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return "", domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
	}
	if err != nil {
		return "", fmt.Errorf("lookup code: %w", err)
	}
	return sessionID, nil
}

// OpenSession attaches the user to a collaboration session. The returned
// session pushes state updates through onState until closed.
func (s *Service) OpenSession(ctx context.Context, user auth.Identity, sessionID string, onState func(collab.StateUpdate)) (*collab.Session, error) {
	sess, err := collab.Open(ctx, s.store, s.bus, user, sessionID, collab.Config{SaveDelay: s.cfg.CollabSaveDelay}, onState)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return sess, nil
}

// LoadBoard returns the user's private canvas. A board that was never saved
// loads as an empty canvas with the default camera.
func (s *Service) LoadBoard(ctx context.Context, user auth.Identity, boardID string) (BoardState, error) {
	if user.Sub == "" {
		return BoardState{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if boardID == "" {
		boardID = DefaultBoardID
	}

	row, err := s.store.GetBoard(ctx, user.Sub, boardID)
	if errors.Is(err, store.ErrNotFound) {
		return BoardState{Nodes: []board.Node{}, Edges: []board.Edge{}, Viewport: board.Viewport{Zoom: 1}}, nil
	}
	if err != nil {
		return BoardState{}, fmt.Errorf("load board: %w", err)
	}

	nodes, err := board.DecodeNodes(row.StateNodes)
	if err != nil {
		return BoardState{}, fmt.Errorf("load board: %w", err)
	}
	edges, err := board.DecodeEdges(row.StateEdges)
	if err != nil {
		return BoardState{}, fmt.Errorf("load board: %w", err)
	}
	viewport, err := board.DecodeViewport(row.StateViewport)
	if err != nil {
		return BoardState{}, fmt.Errorf("load board: %w", err)
	}
	return BoardState{Nodes: nodes, Edges: edges, Viewport: viewport}, nil
}

// SaveBoard schedules a debounced write of the user's private canvas. The
// write happens after the board delay elapses with no further saves; only the
// last state within the window reaches the database.
func (s *Service) SaveBoard(_ context.Context, user auth.Identity, boardID string, state BoardState) error {
	if user.Sub == "" {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if boardID == "" {
		boardID = DefaultBoardID
	}
	if err := board.ValidateNodes(state.Nodes); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if err := board.ValidateEdges(state.Edges); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	viewport := state.Viewport
	saver, err := s.boardSaver(user.Sub, boardID)
	if err != nil {
		return err
	}
	saver.Save(collab.RoleHost, collab.Snapshot{
		Nodes:    state.Nodes,
		Edges:    state.Edges,
		Viewport: &viewport,
	})
	return nil
}

// boardSaver returns the debouncer for one (owner, board) pair, creating it
// on first use.
func (s *Service) boardSaver(ownerID, boardID string) (*collab.Saver, error) {
	key := ownerID + "/" + boardID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domainError(http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server shutting down", nil)
	}
	if saver, ok := s.boardSavers[key]; ok {
		return saver, nil
	}
	var saver *collab.Saver
	saver = collab.NewSaver(s.cfg.BoardSaveDelay, func(ctx context.Context, stateNodes, stateEdges, stateViewport string) error {
		err := s.store.SaveBoard(ctx, store.Board{
			ID:            boardID,
			OwnerID:       ownerID,
			StateNodes:    stateNodes,
			StateEdges:    stateEdges,
			StateViewport: stateViewport,
		})
		if err == nil {
			s.releaseBoardSaver(key, saver)
		}
		return err
	})
	s.boardSavers[key] = saver
	return saver, nil
}

// releaseBoardSaver drops a debouncer once its flush lands, so idle boards do
// not pin savers for the life of the process. A save racing the flush finds
// the entry gone and creates a fresh one.
func (s *Service) releaseBoardSaver(key string, saver *collab.Saver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boardSavers[key] == saver {
		delete(s.boardSavers, key)
	}
}

// Close cancels every pending board save.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, saver := range s.boardSavers {
		saver.Close()
	}
	s.boardSavers = map[string]*collab.Saver{}
}
