// Package sprites maps Pokémon names found in battle text to Generation 3 sprite URLs.
package sprites

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sprite sources. Back sprites only exist as static images.
const (
	BackBaseURL     = "https://play.pokemonshowdown.com/sprites/gen3-back/"
	StaticBaseURL   = "https://play.pokemonshowdown.com/sprites/gen3/"
	AnimatedBaseURL = "https://raw.githubusercontent.com/Dastardllydwarf/Emerald-Animated-Sprites/main/"

	staticExt   = ".png"
	animatedExt = ".gif"
)

// formePrefixes lists species whose alternate formes are missing from the animated set.
var formePrefixes = []string{"castform-", "deoxys-"}

var nameReplacer = strings.NewReplacer(
	":", "",
	" ", "-",
	"%", "",
	".", "",
	"’", "",
	"'", "",
)

// Normalize converts a display name into the sprite file naming scheme.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	// NFD splits accented letters so the combining marks can be dropped.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}
	return nameReplacer.Replace(name)
}

// Resolve returns the sprite URL for a species. No request is made; unknown names
// simply produce a URL that will not load.
func Resolve(name string, back bool) string {
	n := Normalize(name)
	if back {
		return BackBaseURL + n + staticExt
	}
	for _, prefix := range formePrefixes {
		if strings.HasPrefix(n, prefix) {
			return StaticBaseURL + n + staticExt
		}
	}
	return AnimatedBaseURL + n + animatedExt
}

// Pair holds the two sprites shown for a turn: the viewing player's mon from behind
// and the opponent's mon from the front.
type Pair struct {
	Player   string
	Opponent string
}

// ResolvePair resolves both sides at once. Empty names yield empty URLs.
func ResolvePair(playerMon, opponentMon string) Pair {
	var p Pair
	if playerMon != "" {
		p.Player = Resolve(playerMon, true)
	}
	if opponentMon != "" {
		p.Opponent = Resolve(opponentMon, false)
	}
	return p
}
