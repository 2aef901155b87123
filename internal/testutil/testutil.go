// Package testutil provides common test fixtures and helpers for ReplayPipe tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/ReplayPipe/internal/models"
)

// SampleReplayURL is the replay the fixtures below were modelled on.
const SampleReplayURL = "https://replay.pokemonshowdown.com/gen3ou-2000000000"

// SampleLogA is a trimmed log panel from player 1's viewpoint, including the
// wrapper markup, chat lines and spacer blocks the parser has to discard.
const SampleLogA = `<div class="battle-options"></div><div class="inner message-log">` +
	`<div class="chat"><small>☆</small><strong>Ash</strong> joined</div>` +
	`<div>[Gen 3] OU</div>` +
	`<div><em>Sleep Clause Mod: Limit one foe put to sleep</em></div>` +
	`<div class="battle-history">Battle started between Ash and Gary!</div>` +
	`<div class="spacer battle-history"><br></div>` +
	`<div class="battle-history">Go! <strong>Pikachu</strong>!</div>` +
	`<div class="battle-history">Gary sent out <strong>Bulbasaur</strong>!</div>` +
	`<div class="spacer battle-history"><br></div>` +
	`<h2 class="battle-history">Turn 1</h2>` +
	`<div class="chat"><strong>Gary:</strong> <em>gl hf</em></div>` +
	`<div class="battle-history">Pikachu used <strong>Thunderbolt</strong>!</div>` +
	`<div class="battle-history"><small>(</small>The opposing Bulbasaur lost <abbr title="47/100">47%</abbr> of its health!<small>)</small></div>` +
	`<div class="spacer battle-history"><br></div>` +
	`<h2 class="battle-history">Turn 2</h2>` +
	`<div class="battle-history">Gary withdrew Bulbasaur!<br>Gary sent out <strong>Gyarados</strong>!</div>` +
	`<div class="battle-history"><strong>Ash</strong> won the battle!</div>` +
	`</div><div class="inner-preempt message-log"></div>`

// SampleLogB is the same battle from player 2's viewpoint.
const SampleLogB = `<div class="battle-options"></div><div class="inner message-log">` +
	`<div>[Gen 3] OU</div>` +
	`<div><em>Sleep Clause Mod: Limit one foe put to sleep</em></div>` +
	`<div class="battle-history">Battle started between Ash and Gary!</div>` +
	`<div class="spacer battle-history"><br></div>` +
	`<div class="battle-history">Ash sent out <strong>Pikachu</strong>!</div>` +
	`<div class="battle-history">Go! <strong>Bulbasaur</strong>!</div>` +
	`<div class="spacer battle-history"><br></div>` +
	`<h2 class="battle-history">Turn 1</h2>` +
	`<div class="battle-history">The opposing Pikachu used <strong>Thunderbolt</strong>!</div>` +
	`<div class="battle-history"><small>(</small>Bulbasaur lost <abbr title="47/100">47%</abbr> of its health!<small>)</small></div>` +
	`<div class="spacer battle-history"><br></div>` +
	`<h2 class="battle-history">Turn 2</h2>` +
	`<div class="battle-history">Bulbasaur, come back!<br>Go! <strong>Gyarados</strong>!</div>` +
	`<div class="battle-history"><strong>Ash</strong> won the battle!</div>` +
	`</div><div class="inner-preempt message-log"></div>`

// SampleFormatText is the preface both sample logs normalize to.
const SampleFormatText = "[Gen 3] OU\n- Sleep Clause Mod: Limit one foe put to sleep"

// SampleTurnsA is the expected turn sequence for SampleLogA.
var SampleTurnsA = []string{
	"## ```Turn 0```\nBattle started between Ash and Gary!\n\nGo! **Pikachu**!\nGary sent out **Bulbasaur**!",
	"## ```Turn 1```\nPikachu used **Thunderbolt**!\n(The opposing Bulbasaur lost 47% of its health!)",
	"## ```Turn 2```\nGary withdrew Bulbasaur!\nGary sent out **Gyarados**!\n**Ash** won the battle!",
}

// SampleTurnsB is the expected turn sequence for SampleLogB.
var SampleTurnsB = []string{
	"## ```Turn 0```\nBattle started between Ash and Gary!\n\nAsh sent out **Pikachu**!\nGo! **Bulbasaur**!",
	"## ```Turn 1```\nThe opposing Pikachu used **Thunderbolt**!\n(Bulbasaur lost 47% of its health!)",
	"## ```Turn 2```\nBulbasaur, come back!\nGo! **Gyarados**!\n**Ash** won the battle!",
}

// SampleReplay returns a fresh copy of the parsed sample battle.
func SampleReplay() models.ParsedReplay {
	return models.ParsedReplay{
		FormatText: SampleFormatText,
		TurnsA:     append([]string(nil), SampleTurnsA...),
		TurnsB:     append([]string(nil), SampleTurnsB...),
	}
}

// SampleMeta returns the metadata document matching the sample battle.
func SampleMeta() models.ReplayMeta {
	return models.ReplayMeta{
		URL:        SampleReplayURL,
		Players:    [2]string{"Ash", "Gary"},
		Format:     "[Gen 3] OU",
		Views:      42,
		UploadTime: 1700000000,
		Rating:     1500,
	}
}

// TempDBPath returns a SQLite path inside a temporary directory removed after the test.
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "replaypipe_test_")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "test.db")
}

// AssertTurnsEqual compares two turn sequences and reports the first difference.
func AssertTurnsEqual(t *testing.T, expected, actual []string, context string) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("%s: turn count mismatch: expected %d, got %d\nactual: %q", context, len(expected), len(actual), actual)
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Errorf("%s: turn %d mismatch\nexpected: %q\nactual:   %q", context, i, expected[i], actual[i])
		}
	}
}

// AssertReplayEqual compares two parsed replays field by field.
func AssertReplayEqual(t *testing.T, expected, actual models.ParsedReplay, context string) {
	t.Helper()
	if expected.FormatText != actual.FormatText {
		t.Errorf("%s: format text mismatch\nexpected: %q\nactual:   %q", context, expected.FormatText, actual.FormatText)
	}
	AssertTurnsEqual(t, expected.TurnsA, actual.TurnsA, context+" (viewpoint A)")
	AssertTurnsEqual(t, expected.TurnsB, actual.TurnsB, context+" (viewpoint B)")
}

// ContainsAll reports whether s contains every one of the given substrings.
func ContainsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
