package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/BTreeMap/ReplayPipe/internal/models"
)

// TurnDelimiter joins turns inside a single text column. Battle text never
// contains a line made of a lone dash, let alone two in a row.
const TurnDelimiter = "\n-\n-\n"

// JoinTurns serializes a turn sequence for storage.
func JoinTurns(turns []string) string {
	return strings.Join(turns, TurnDelimiter)
}

// SplitTurns reverses JoinTurns.
func SplitTurns(s string) []string {
	return strings.Split(s, TurnDelimiter)
}

// ReplayID derives the stable cache key of a replay URL: the path and query
// without scheme, host or leading slash.
func ReplayID(replayURL string) (string, error) {
	u, err := url.Parse(replayURL)
	if err != nil {
		return "", fmt.Errorf("parse replay url: %w", err)
	}
	id := strings.TrimPrefix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		id += "?" + u.RawQuery
	}
	if id == "" {
		return "", fmt.Errorf("replay url %q has no path", replayURL)
	}
	return id, nil
}

// scanReplayRow scans a replay from a single sql.Row.
func scanReplayRow(row *sql.Row) (models.ParsedReplay, error) {
	var formatText, text1, text2 sql.NullString
	if err := row.Scan(&formatText, &text1, &text2); err != nil {
		return models.ParsedReplay{}, err
	}
	return models.ParsedReplay{
		FormatText: formatText.String,
		TurnsA:     SplitTurns(text1.String),
		TurnsB:     SplitTurns(text2.String),
	}, nil
}
