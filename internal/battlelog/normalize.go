// Package battlelog turns the rendered battle log of a Showdown replay into a
// turn-indexed text narrative.
//
// Only the markup produced by the replay viewer's log panel is understood; anything
// else passes through as text.
package battlelog

import (
	"log/slog"
	"regexp"
	"strings"
)

// TurnMarker separates turns in the normalized body. It never occurs in battle text.
const TurnMarker = "^-^ "

// Boilerplate wrappers emitted around the log panel.
const (
	optionsWrapper = `<div class="battle-options"></div><div class="inner message-log">`
	preemptWrapper = `</div><div class="inner-preempt message-log"></div>`
	spacerBlock    = `<div class="spacer battle-history"><br></div>`
	historyStart   = `<div class="battle-history">`
)

var (
	chatPattern   = regexp.MustCompile(`<div class="chat.*?">.*?</div>`)
	strongPattern = regexp.MustCompile(`<strong.*?>(.*?)</strong>`)
	emPattern     = regexp.MustCompile(`<em.*?>(.*?)</em>`)
	divPattern    = regexp.MustCompile(`<div.*?>(.*?)</div>`)
	brPattern     = regexp.MustCompile(`<br>\n?`)
	abbrPattern   = regexp.MustCompile(`<abbr.*?>(.*?)</abbr>`)
	h2Pattern     = regexp.MustCompile(`<h2.*?>(.*?)</h2>`)
)

// Normalize rewrites a battle-log HTML fragment into plain text.
//
// The preface holds everything before the first battle-history block (format name,
// rule clauses and mods). The body holds the battle narrative with every turn heading
// replaced by TurnMarker and a fenced heading. The rewrites run in a fixed order; each
// one relies on the previous ones having run.
func Normalize(html string) (preface, body string) {
	text := strings.ReplaceAll(html, optionsWrapper, "")
	text = strings.ReplaceAll(text, preemptWrapper, "")

	// joins, leaves, timer notices and chat lines are not narrative
	text = chatPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, spacerBlock, "\n")

	text = strongPattern.ReplaceAllString(text, "**$1**")
	text = strings.ReplaceAll(text, "<small>", "")
	text = strings.ReplaceAll(text, "</small>", "")

	idx := strings.Index(text, historyStart)
	if idx < 0 {
		slog.Debug("battlelog Normalize: no battle history found", "length", len(text))
		preface, body = text, ""
	} else {
		preface, body = text[:idx], text[idx:]
	}

	body = emPattern.ReplaceAllString(body, "_${1}_")
	preface = emPattern.ReplaceAllString(preface, "- $1")

	body = divPattern.ReplaceAllString(body, "$1\n")
	preface = divPattern.ReplaceAllString(preface, "$1\n")

	body = brPattern.ReplaceAllString(body, "\n")
	preface = strings.ReplaceAll(preface, "<br>", "")

	body = abbrPattern.ReplaceAllString(body, "$1")
	body = h2Pattern.ReplaceAllString(body, TurnMarker+"## ```$1```\n")

	return strings.TrimSpace(preface), body
}
