package battlelog

import (
	"log/slog"
	"strings"
)

// turnZeroHeading is prepended to the setup text, which has no heading of its own.
const turnZeroHeading = "## ```Turn 0```\n"

// SplitTurns segments a normalized body into turns, starting at turn 0.
// Turns without narrative stay in the result as empty headings so that
// indexes line up with turn numbers.
func SplitTurns(body string) []string {
	parts := strings.Split(body, TurnMarker)
	turns := make([]string, len(parts))
	for i, p := range parts {
		turns[i] = strings.TrimSpace(p)
	}
	turns[0] = turnZeroHeading + turns[0]
	return turns
}

// Parse normalizes a battle-log fragment and splits it into turns.
func Parse(html string) (formatText string, turns []string) {
	formatText, body := Normalize(html)
	turns = SplitTurns(body)
	slog.Debug("battlelog Parse completed", "turns", len(turns), "format_length", len(formatText))
	return formatText, turns
}
