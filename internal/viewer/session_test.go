package viewer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/BTreeMap/ReplayPipe/internal/models"
	"github.com/BTreeMap/ReplayPipe/internal/sprites"
	"github.com/BTreeMap/ReplayPipe/internal/testutil"
)

func newSampleSession() *Session {
	return NewSession("sid", "owner", testutil.SampleMeta(), testutil.SampleReplay(), models.ThemeSimple)
}

func assertMons(t *testing.T, s *Session, player, opponent string) {
	t.Helper()
	if s.PlayerMon != player || s.OpponentMon != opponent {
		t.Errorf("mons = (%q, %q), want (%q, %q)", s.PlayerMon, s.OpponentMon, player, opponent)
	}
}

func TestNewSessionInitialState(t *testing.T) {
	s := newSampleSession()

	if s.Cursor != 0 || s.Active != ViewpointA || s.Frozen {
		t.Fatalf("unexpected initial state: cursor=%d active=%v frozen=%v", s.Cursor, s.Active, s.Frozen)
	}
	if s.TotalTurns() != 2 {
		t.Errorf("TotalTurns = %d, want 2", s.TotalTurns())
	}
	if s.CanGoBack() {
		t.Error("back controls must start disabled")
	}
	if !s.CanGoForward() {
		t.Error("forward controls must start enabled")
	}
	if got := s.TurnLabel(); got != "Turn 0/2" {
		t.Errorf("TurnLabel = %q", got)
	}
	if got := s.SwapLabel(); got != "Ash" {
		t.Errorf("SwapLabel = %q, want Ash", got)
	}
	title, body := s.Summary()
	if title != "Ash vs. Gary" || body != testutil.SampleFormatText {
		t.Errorf("Summary = %q, %q", title, body)
	}
	assertMons(t, s, "Pikachu", "Bulbasaur")
}

func TestSingleTurnReplayCannotMoveForward(t *testing.T) {
	replay := models.ParsedReplay{FormatText: "x", TurnsA: []string{"## ```Turn 0```\n"}, TurnsB: []string{"## ```Turn 0```\n"}}
	s := NewSession("sid", "owner", testutil.SampleMeta(), replay, models.ThemeSimple)
	if s.CanGoForward() {
		t.Error("forward controls must be disabled when there are no turns")
	}
	if err := s.StepForward(); !errors.Is(err, ErrAtLastTurn) {
		t.Errorf("StepForward = %v, want ErrAtLastTurn", err)
	}
}

func TestStepThroughReplay(t *testing.T) {
	s := newSampleSession()

	if err := s.StepBackward(); !errors.Is(err, ErrAtFirstTurn) {
		t.Fatalf("StepBackward at 0 = %v", err)
	}
	if err := s.StepForward(); err != nil {
		t.Fatal(err)
	}
	if !s.CanGoBack() || !s.CanGoForward() {
		t.Error("both directions must be enabled mid-replay")
	}
	title, body := s.Summary()
	if title != "[Gen 3] OU: Ash vs. Gary" || body != "" {
		t.Errorf("Summary past turn 0 = %q, %q", title, body)
	}
	if s.CurrentText() != testutil.SampleTurnsA[1] {
		t.Errorf("CurrentText = %q", s.CurrentText())
	}
	// turn 1 has no switches, sprites persist
	assertMons(t, s, "Pikachu", "Bulbasaur")

	if err := s.StepForward(); err != nil {
		t.Fatal(err)
	}
	assertMons(t, s, "Pikachu", "Gyarados")
	if s.CanGoForward() {
		t.Error("forward controls must disable at the last turn")
	}
	if err := s.StepForward(); !errors.Is(err, ErrAtLastTurn) {
		t.Errorf("StepForward at end = %v", err)
	}
	if s.Cursor != 2 {
		t.Errorf("cursor moved past the end: %d", s.Cursor)
	}

	// single steps only scan the new turn, so the last switch seen is kept
	if err := s.StepBackward(); err != nil {
		t.Fatal(err)
	}
	assertMons(t, s, "Pikachu", "Gyarados")
}

func TestJump(t *testing.T) {
	s := newSampleSession()

	moved, err := s.Jump(0)
	if err != nil || moved {
		t.Errorf("Jump to current cursor = %v, %v; want no-op", moved, err)
	}

	for _, target := range []int{-1, 3, 100} {
		if _, err := s.Jump(target); !errors.Is(err, ErrTurnOutOfRange) {
			t.Errorf("Jump(%d) = %v, want ErrTurnOutOfRange", target, err)
		}
	}
	if s.Cursor != 0 {
		t.Fatalf("rejected jumps changed the cursor to %d", s.Cursor)
	}

	moved, err = s.Jump(2)
	if err != nil || !moved {
		t.Fatalf("Jump(2) = %v, %v", moved, err)
	}
	assertMons(t, s, "Pikachu", "Gyarados")

	// a backward jump rescans from turn 0
	if _, err := s.Jump(1); err != nil {
		t.Fatal(err)
	}
	assertMons(t, s, "Pikachu", "Bulbasaur")
}

func TestFirstAndLast(t *testing.T) {
	s := newSampleSession()
	if err := s.First(); !errors.Is(err, ErrAtFirstTurn) {
		t.Errorf("First at 0 = %v", err)
	}
	if err := s.Last(); err != nil {
		t.Fatal(err)
	}
	if s.Cursor != 2 {
		t.Errorf("Last moved cursor to %d", s.Cursor)
	}
	if err := s.Last(); !errors.Is(err, ErrAtLastTurn) {
		t.Errorf("Last at end = %v", err)
	}
	if err := s.First(); err != nil {
		t.Fatal(err)
	}
	if s.Cursor != 0 || s.CanGoBack() {
		t.Errorf("First left cursor=%d canGoBack=%v", s.Cursor, s.CanGoBack())
	}
	title, _ := s.Summary()
	if title != "Ash vs. Gary" {
		t.Errorf("summary title did not revert at turn 0: %q", title)
	}
}

func TestSwapViewpoint(t *testing.T) {
	s := newSampleSession()

	if err := s.SwapViewpoint(); err != nil {
		t.Fatal(err)
	}
	if s.Active != ViewpointB {
		t.Fatalf("Active = %v", s.Active)
	}
	if s.CurrentText() != testutil.SampleTurnsB[0] {
		t.Errorf("CurrentText after swap = %q", s.CurrentText())
	}
	assertMons(t, s, "Bulbasaur", "Pikachu")
	pair := s.Sprites()
	if pair.Player != sprites.Resolve("Bulbasaur", true) || pair.Opponent != sprites.Resolve("Pikachu", false) {
		t.Errorf("Sprites after swap = %+v", pair)
	}
	if got := s.SwapLabel(); got != "Gary" {
		t.Errorf("SwapLabel after swap = %q", got)
	}
	title, _ := s.Summary()
	if title != "Gary vs. Ash" {
		t.Errorf("Summary title after swap = %q", title)
	}

	// the stored B sequence agrees with the swapped sprites
	if err := s.StepForward(); err != nil {
		t.Fatal(err)
	}
	if err := s.StepForward(); err != nil {
		t.Fatal(err)
	}
	assertMons(t, s, "Gyarados", "Pikachu")

	if err := s.SwapViewpoint(); err != nil {
		t.Fatal(err)
	}
	if s.CurrentText() != testutil.SampleTurnsA[2] || s.Cursor != 2 {
		t.Errorf("swap back changed cursor or text: %d %q", s.Cursor, s.CurrentText())
	}
}

func TestFrozenSessionRejectsEverything(t *testing.T) {
	s := newSampleSession()
	s.Freeze()
	s.Freeze()

	if s.CanGoBack() || s.CanGoForward() {
		t.Error("frozen session must disable all directions")
	}
	checks := map[string]error{
		"StepForward":   s.StepForward(),
		"StepBackward":  s.StepBackward(),
		"First":         s.First(),
		"Last":          s.Last(),
		"SwapViewpoint": s.SwapViewpoint(),
	}
	if _, err := s.Jump(1); !errors.Is(err, ErrSessionFrozen) {
		t.Errorf("Jump on frozen session = %v", err)
	}
	for name, err := range checks {
		if !errors.Is(err, ErrSessionFrozen) {
			t.Errorf("%s on frozen session = %v", name, err)
		}
	}
	if s.Cursor != 0 || s.Active != ViewpointA {
		t.Error("frozen session state changed")
	}
}

func TestAuthorize(t *testing.T) {
	s := newSampleSession()
	if err := s.Authorize("owner"); err != nil {
		t.Errorf("owner rejected: %v", err)
	}
	if err := s.Authorize("someone-else"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger accepted: %v", err)
	}
}

func TestCursorStaysInRange(t *testing.T) {
	s := newSampleSession()
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		switch r.Intn(6) {
		case 0:
			_ = s.StepForward()
		case 1:
			_ = s.StepBackward()
		case 2:
			_, _ = s.Jump(r.Intn(7) - 2)
		case 3:
			_ = s.First()
		case 4:
			_ = s.Last()
		case 5:
			_ = s.SwapViewpoint()
		}
		if s.Cursor < 0 || s.Cursor > s.TotalTurns() {
			t.Fatalf("cursor %d escaped [0, %d] after %d transitions", s.Cursor, s.TotalTurns(), i)
		}
		st := s.Snapshot()
		if st.CanGoBack != (st.Cursor > 0) || st.CanGoForward != (st.Cursor < st.TotalTurns) {
			t.Fatalf("control flags disagree with cursor: %+v", st)
		}
	}
}

func TestSnapshot(t *testing.T) {
	s := newSampleSession()
	if _, err := s.Jump(2); err != nil {
		t.Fatal(err)
	}
	st := s.Snapshot()
	if st.SessionID != "sid" || st.Cursor != 2 || st.TotalTurns != 2 {
		t.Errorf("unexpected snapshot header: %+v", st)
	}
	if st.TurnLabel != "Turn 2/2" || st.SwapLabel != "Ash" {
		t.Errorf("labels = %q, %q", st.TurnLabel, st.SwapLabel)
	}
	if st.Text != testutil.SampleTurnsA[2] {
		t.Errorf("Text = %q", st.Text)
	}
	if st.Sprites.Opponent != sprites.Resolve("Gyarados", false) {
		t.Errorf("opponent sprite = %q", st.Sprites.Opponent)
	}
	if st.SummaryTitle != "[Gen 3] OU: Ash vs. Gary" || st.SummaryBody != "" {
		t.Errorf("summary = %q, %q", st.SummaryTitle, st.SummaryBody)
	}
}

func TestParseTurnInput(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr error
	}{
		{"0", 0, nil},
		{"17", 17, nil},
		{" 5 ", 5, nil},
		{"18", 0, ErrTurnOutOfRange},
		{"99999999999999999999", 0, ErrTurnOutOfRange},
		{"", 0, ErrInvalidTurnNumber},
		{"-1", 0, ErrInvalidTurnNumber},
		{"+3", 0, ErrInvalidTurnNumber},
		{"three", 0, ErrInvalidTurnNumber},
		{"1.5", 0, ErrInvalidTurnNumber},
	}
	for _, tt := range tests {
		got, err := ParseTurnInput(tt.raw, 17)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseTurnInput(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseTurnInput(%q) = %d, %v; want %d", tt.raw, got, err, tt.want)
		}
	}
}
