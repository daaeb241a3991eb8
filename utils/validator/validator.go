// Package validator checks candidate release titles against what was actually
// searched for, so site adapters never feed mismatched releases to the *arr
// clients.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

var (
	nonWordRe    = regexp.MustCompile(`[^a-z0-9]+`)
	resolutionRe = regexp.MustCompile(`(?i)\b(2160p|1080[pi]|720p|480p)\b`)
	codecRe      = regexp.MustCompile(`(?i)\b(x26[45]|h\.?26[45]|hevc|xvid|av1|web[\-.]?(dl|rip)?|blu[\-.]?ray|bdrip|hdtv|dvdrip)\b`)
	xxxRe        = regexp.MustCompile(`(?i)(^|[.\-_ ])xxx([.\-_ ]|$)`)
	imdbRe       = regexp.MustCompile(`tt\d{7,8}`)
)

// Normalize transliterates a title to plain ASCII, lowercases it, and
// collapses separators. Umlauts and friends survive as their base letters so
// "Die Höhle" matches "die.hoehle" releases and "die.hohle" ones alike.
func Normalize(s string) string {
	s = strings.ToLower(unidecode.Unidecode(s))
	return strings.Trim(nonWordRe.ReplaceAllString(s, "."), ".")
}

// Options describes what the caller searched for.
type Options struct {
	SearchString string
	Season       int
	Episode      int
	IMDBID       string // wanted id; empty means no constraint
	WantXXX      bool   // explicit adult search; otherwise XXX titles are dropped
	BaseType     string // movies | tv | books | magazines | music
}

// CheckTitle validates one candidate release title. A nil error means the
// release may be surfaced.
func CheckTitle(title string, opts Options) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("empty title")
	}

	normalized := Normalize(title)

	if !opts.WantXXX && xxxRe.MatchString(title) {
		return fmt.Errorf("adult release not requested")
	}

	if opts.SearchString != "" {
		for _, term := range strings.Split(Normalize(opts.SearchString), ".") {
			if term == "" {
				continue
			}
			if !strings.Contains("."+normalized+".", "."+term+".") {
				return fmt.Errorf("title does not contain %q", term)
			}
		}
	}

	if opts.Season > 0 {
		if err := checkSeasonEpisode(normalized, opts.Season, opts.Episode); err != nil {
			return err
		}
	}

	// Video releases without any quality token are almost always junk rows
	// scraped from navigation markup.
	switch opts.BaseType {
	case "movies", "tv", "":
		if !resolutionRe.MatchString(title) && !codecRe.MatchString(title) {
			return fmt.Errorf("no resolution or codec token")
		}
	}

	return nil
}

func checkSeasonEpisode(normalized string, season, episode int) error {
	if episode > 0 {
		wanted := fmt.Sprintf("s%02de%02d", season, episode)
		if !strings.Contains(normalized, wanted) {
			return fmt.Errorf("missing %s", strings.ToUpper(wanted))
		}
		return nil
	}

	// Season pack: the season marker must be present and must not carry a
	// single-episode suffix.
	marker := fmt.Sprintf("s%02d", season)
	idx := strings.Index(normalized, marker)
	if idx < 0 {
		return fmt.Errorf("missing %s", strings.ToUpper(marker))
	}
	rest := normalized[idx+len(marker):]
	if len(rest) > 0 && rest[0] == 'e' {
		return fmt.Errorf("episode release where season pack was requested")
	}
	return nil
}

// CheckIMDB verifies the release page's IMDb id (when one was scraped) against
// the id the client asked for.
func CheckIMDB(wanted, found string) error {
	wanted = strings.TrimSpace(wanted)
	found = strings.TrimSpace(found)
	if wanted == "" || found == "" {
		return nil
	}
	if !strings.EqualFold(wanted, found) {
		return fmt.Errorf("imdb id mismatch: wanted %s, release page says %s", wanted, found)
	}
	return nil
}

// ExtractIMDB pulls the first IMDb id out of arbitrary text.
func ExtractIMDB(text string) string {
	return imdbRe.FindString(text)
}
