package battlelog

import (
	"regexp"
	"strings"
)

// Both patterns anchor on the whole line and capture the last bolded name before the
// closing "!", so nicknamed switches ("**Nick** (**Species**)!") yield the species and
// player names that happen to contain "sent out" cannot hijack the match.
var (
	playerMonPattern   = regexp.MustCompile(`(?m)^Go!.*?\*\*([^*\n]+)\*\*\)?![ \t]*$`)
	opponentMonPattern = regexp.MustCompile(`(?m)^.*?(?i:sent out).*?\*\*([^*\n]+)\*\*\)?![ \t]*$`)
)

const winSuffix = " won the battle!"

// PlayerMon returns the species the viewing player sent out most recently in text.
// Only the last switch is reported, so double switches inside one span collapse.
func PlayerMon(text string) (string, bool) {
	return lastMatch(playerMonPattern, text)
}

// OpponentMon returns the species the opposing player sent out most recently in text.
func OpponentMon(text string) (string, bool) {
	return lastMatch(opponentMonPattern, text)
}

// JoinSpan concatenates turns for mining. Turns are joined on newlines so the last
// line of one turn never runs into the heading of the next.
func JoinSpan(turns []string) string {
	return strings.Join(turns, "\n")
}

func lastMatch(re *regexp.Regexp, text string) (string, bool) {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1][1]), true
}

// Winner reads the closing line of the final turn and reports which player won.
// It returns an empty string for ties, forfeits without a winner line, or names
// that match neither player.
func Winner(turns []string, p1, p2 string) string {
	if len(turns) == 0 {
		return ""
	}
	last := strings.TrimSpace(turns[len(turns)-1])
	if i := strings.LastIndex(last, "\n"); i >= 0 {
		last = last[i+1:]
	}
	last = strings.ReplaceAll(last, "**", "")
	if !strings.HasSuffix(last, winSuffix) {
		return ""
	}
	switch strings.TrimSuffix(last, winSuffix) {
	case p1:
		return p1
	case p2:
		return p2
	default:
		return ""
	}
}
