// Package viewer holds the turn navigation state for one replay message.
//
// A Session is an explicit state machine: the cursor, the active viewpoint and the
// sprites currently on screen are named fields, and the renderer derives control
// enablement from them instead of from any particular button ordering.
package viewer

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/ReplayPipe/internal/battlelog"
	"github.com/BTreeMap/ReplayPipe/internal/models"
	"github.com/BTreeMap/ReplayPipe/internal/sprites"
)

// Viewpoint selects which player's turn sequence is displayed.
type Viewpoint int

const (
	// ViewpointA is player 1's perspective, the initial viewpoint.
	ViewpointA Viewpoint = iota
	// ViewpointB is player 2's perspective.
	ViewpointB
)

// Other returns the opposite viewpoint.
func (v Viewpoint) Other() Viewpoint {
	if v == ViewpointA {
		return ViewpointB
	}
	return ViewpointA
}

func (v Viewpoint) String() string {
	if v == ViewpointA {
		return "A"
	}
	return "B"
}

// Navigation errors. All of them leave the session unchanged.
var (
	ErrAtFirstTurn       = errors.New("already at the first turn")
	ErrAtLastTurn        = errors.New("already at the last turn")
	ErrTurnOutOfRange    = errors.New("turn number out of range")
	ErrInvalidTurnNumber = errors.New("turn number is not a number")
	ErrSessionFrozen     = errors.New("viewer session has expired")
	ErrNotOwner          = errors.New("only the user who opened the replay can control it")
)

// Session is the navigation state of one replay viewer.
type Session struct {
	ID      string
	OwnerID string
	Meta    models.ReplayMeta
	Replay  models.ParsedReplay
	Theme   models.Theme

	Cursor      int
	Active      Viewpoint
	PlayerMon   string
	OpponentMon string
	Frozen      bool

	mu sync.Mutex
}

// State is a consistent snapshot of everything the renderer needs.
type State struct {
	SessionID    string
	Cursor       int
	TotalTurns   int
	Active       Viewpoint
	Text         string
	Sprites      sprites.Pair
	CanGoBack    bool
	CanGoForward bool
	Frozen       bool
	TurnLabel    string
	SwapLabel    string
	SummaryTitle string
	SummaryBody  string
}

// NewSession creates a session at turn 0 from player 1's viewpoint.
func NewSession(id, ownerID string, meta models.ReplayMeta, replay models.ParsedReplay, theme models.Theme) *Session {
	s := &Session{
		ID:      id,
		OwnerID: ownerID,
		Meta:    meta,
		Replay:  replay,
		Theme:   theme,
	}
	s.mine(s.turns()[:1])
	slog.Debug("viewer NewSession", "session_id", id, "owner_id", ownerID, "total_turns", s.totalTurns(),
		"player_mon", s.PlayerMon, "opponent_mon", s.OpponentMon)
	return s
}

// Authorize reports whether userID may drive this session.
func (s *Session) Authorize(userID string) error {
	if userID != s.OwnerID {
		slog.Debug("viewer Authorize rejected", "session_id", s.ID, "user_id", userID)
		return ErrNotOwner
	}
	return nil
}

// StepForward advances one turn. Sprites are re-derived from the new turn only.
func (s *Session) StepForward() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Frozen {
		return ErrSessionFrozen
	}
	if s.Cursor >= s.totalTurns() {
		return ErrAtLastTurn
	}
	s.Cursor++
	s.mine(s.turns()[s.Cursor : s.Cursor+1])
	slog.Debug("viewer StepForward", "session_id", s.ID, "cursor", s.Cursor)
	return nil
}

// StepBackward goes back one turn. Sprites are re-derived from the new turn only.
func (s *Session) StepBackward() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Frozen {
		return ErrSessionFrozen
	}
	if s.Cursor <= 0 {
		return ErrAtFirstTurn
	}
	s.Cursor--
	s.mine(s.turns()[s.Cursor : s.Cursor+1])
	slog.Debug("viewer StepBackward", "session_id", s.ID, "cursor", s.Cursor)
	return nil
}

// Jump moves the cursor to target. It reports moved=false without error when the
// cursor is already there.
func (s *Session) Jump(target int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jumpLocked(target)
}

// First jumps to turn 0.
func (s *Session) First() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Frozen && s.Cursor == 0 {
		return ErrAtFirstTurn
	}
	_, err := s.jumpLocked(0)
	return err
}

// Last jumps to the final turn.
func (s *Session) Last() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Frozen && s.Cursor == s.totalTurns() {
		return ErrAtLastTurn
	}
	_, err := s.jumpLocked(s.totalTurns())
	return err
}

func (s *Session) jumpLocked(target int) (bool, error) {
	if s.Frozen {
		return false, ErrSessionFrozen
	}
	total := s.totalTurns()
	if target < 0 || target > total {
		return false, fmt.Errorf("%w: enter a number between 0 and %d", ErrTurnOutOfRange, total)
	}
	if target == s.Cursor {
		slog.Debug("viewer Jump no-op", "session_id", s.ID, "cursor", s.Cursor)
		return false, nil
	}
	turns := s.turns()
	if target > s.Cursor {
		// skipped turns may hold switches, so the whole span is scanned
		s.mine(turns[s.Cursor : target+1])
	} else {
		s.mine(turns[:target+1])
	}
	slog.Debug("viewer Jump", "session_id", s.ID, "from", s.Cursor, "to", target)
	s.Cursor = target
	return true, nil
}

// SwapViewpoint shows the other player's turn sequence at the same cursor and
// exchanges which mon is drawn as the player's and which as the opponent's.
func (s *Session) SwapViewpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Frozen {
		return ErrSessionFrozen
	}
	s.Active = s.Active.Other()
	s.PlayerMon, s.OpponentMon = s.OpponentMon, s.PlayerMon
	slog.Debug("viewer SwapViewpoint", "session_id", s.ID, "active", s.Active, "cursor", s.Cursor)
	return nil
}

// Freeze moves the session into its terminal state. It is idempotent.
func (s *Session) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Frozen {
		slog.Debug("viewer Freeze", "session_id", s.ID)
	}
	s.Frozen = true
}

// IsFrozen reports whether the session accepts no more transitions.
func (s *Session) IsFrozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Frozen
}

// TotalTurns returns the highest reachable cursor value.
func (s *Session) TotalTurns() int {
	return s.totalTurns()
}

// CurrentText returns the narrative for the cursor from the active viewpoint.
func (s *Session) CurrentText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns()[s.Cursor]
}

// CanGoBack reports whether previous/first controls are enabled.
func (s *Session) CanGoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Frozen && s.Cursor > 0
}

// CanGoForward reports whether next/last controls are enabled.
func (s *Session) CanGoForward() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Frozen && s.Cursor < s.totalTurns()
}

// ActivePlayer returns the name of the player whose viewpoint is shown.
func (s *Session) ActivePlayer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Meta.Players[s.Active]
}

// SwapLabel is the caption of the swap-viewpoint control: the active player's name.
func (s *Session) SwapLabel() string {
	return s.ActivePlayer()
}

// TurnLabel renders the disabled turn counter, e.g. "Turn 3/17".
func (s *Session) TurnLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnLabel()
}

// Summary returns the title and description of the top panel. At turn 0 the
// panel shows the format rules; past it the title is prefixed with the format.
func (s *Session) Summary() (title, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary()
}

// Sprites resolves the sprite URLs currently on screen.
func (s *Session) Sprites() sprites.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sprites.ResolvePair(s.PlayerMon, s.OpponentMon)
}

// Snapshot returns the whole render state under one lock.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	title, body := s.summary()
	return State{
		SessionID:    s.ID,
		Cursor:       s.Cursor,
		TotalTurns:   s.totalTurns(),
		Active:       s.Active,
		Text:         s.turns()[s.Cursor],
		Sprites:      sprites.ResolvePair(s.PlayerMon, s.OpponentMon),
		CanGoBack:    !s.Frozen && s.Cursor > 0,
		CanGoForward: !s.Frozen && s.Cursor < s.totalTurns(),
		Frozen:       s.Frozen,
		TurnLabel:    s.turnLabel(),
		SwapLabel:    s.Meta.Players[s.Active],
		SummaryTitle: title,
		SummaryBody:  body,
	}
}

func (s *Session) totalTurns() int {
	return s.Replay.TotalTurns()
}

func (s *Session) turns() []string {
	if s.Active == ViewpointB {
		return s.Replay.TurnsB
	}
	return s.Replay.TurnsA
}

func (s *Session) turnLabel() string {
	return fmt.Sprintf("Turn %d/%d", s.Cursor, s.totalTurns())
}

func (s *Session) summary() (string, string) {
	matchup := fmt.Sprintf("%s vs. %s", s.Meta.Players[s.Active], s.Meta.Players[s.Active.Other()])
	if s.Cursor == 0 {
		return matchup, s.Replay.FormatText
	}
	return fmt.Sprintf("%s: %s", s.Meta.Format, matchup), ""
}

// mine updates the sprites from the last switch on each side within span. A side
// with no switch in span keeps its previous mon.
func (s *Session) mine(span []string) {
	text := battlelog.JoinSpan(span)
	if mon, ok := battlelog.PlayerMon(text); ok {
		s.PlayerMon = mon
	}
	if mon, ok := battlelog.OpponentMon(text); ok {
		s.OpponentMon = mon
	}
}

// ParseTurnInput validates the text typed into the go-to-turn prompt. Only plain
// decimal digits are accepted, and the value must lie in [0, total].
func ParseTurnInput(raw string, total int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.IndexFunc(raw, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, ErrInvalidTurnNumber
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n > total {
		return 0, fmt.Errorf("%w: enter a number between 0 and %d", ErrTurnOutOfRange, total)
	}
	return n, nil
}
