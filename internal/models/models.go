// Package models defines the core data structures for ReplayPipe.
//
// It includes the parsed replay representation, upstream replay metadata and the
// error values shared across the parser, store, scraper and bot modules.
package models

import (
	"errors"
	"fmt"
)

// Theme selects how a replay is presented. Only the text narrative is rendered today;
// the other themes are accepted and recorded for future image-generation strategies.
type Theme string

const (
	// ThemeNormal archives the replay visually alongside the text narrative.
	ThemeNormal Theme = "normal"
	// ThemeSimple is the compact text-only theme.
	ThemeSimple Theme = "simple"
	// ThemePixel renders generated pixel images for each turn.
	ThemePixel Theme = "pixel"
)

// DefaultTheme is used when the command is invoked without a theme.
const DefaultTheme = ThemeNormal

// IsValidTheme checks if the given theme is supported.
func IsValidTheme(t Theme) bool {
	switch t {
	case ThemeNormal, ThemeSimple, ThemePixel:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrInvalidReplayURL    = errors.New("invalid replay url")
	ErrUpstreamUnavailable = errors.New("replay source unavailable")
	ErrScrapeTimeout       = errors.New("replay scrape timed out")
	ErrScrapeFailed        = errors.New("replay scrape failed")
	ErrEmptyReplay         = errors.New("parsed replay has no turns")
	ErrTurnCountMismatch   = errors.New("viewpoint turn counts differ")
)

// RawReplayDocument holds the two battle-log HTML fragments captured by the browser,
// one per player viewpoint. It is never persisted.
type RawReplayDocument struct {
	ViewpointA string
	ViewpointB string
}

// ParsedReplay is the turn-indexed narrative of a battle from both viewpoints.
// Index 0 of each turn sequence is always the "Turn 0" scene-setting text.
type ParsedReplay struct {
	FormatText string   `json:"format_text"`
	TurnsA     []string `json:"turns_a"`
	TurnsB     []string `json:"turns_b"`
}

// TotalTurns returns the highest turn index that can be displayed.
func (p ParsedReplay) TotalTurns() int {
	return len(p.TurnsA) - 1
}

// Validate checks the structural invariants of a parsed replay.
func (p ParsedReplay) Validate() error {
	if len(p.TurnsA) == 0 || len(p.TurnsB) == 0 {
		return ErrEmptyReplay
	}
	if len(p.TurnsA) != len(p.TurnsB) {
		return fmt.Errorf("%w: %d vs %d", ErrTurnCountMismatch, len(p.TurnsA), len(p.TurnsB))
	}
	return nil
}

// ReplayMeta is the metadata document served next to every replay (<url>.json).
type ReplayMeta struct {
	URL        string    `json:"-"`
	Players    [2]string `json:"-"`
	Format     string    `json:"format"`
	Views      int       `json:"views"`
	UploadTime int64     `json:"uploadtime"`
	Rating     int       `json:"rating,omitempty"`
}

// P1 returns the name of the first player.
func (m ReplayMeta) P1() string { return m.Players[0] }

// P2 returns the name of the second player.
func (m ReplayMeta) P2() string { return m.Players[1] }
