// Package cleaner implements the title-cleaning pipeline (spec.md §4.3):
// an ordered sequence of regex-driven transforms that turns a raw chapter
// filename stem into a display title, flagging "extra" (bonus) chapters
// along the way.
package cleaner

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Rule is an extensible find/replace step applied after the built-in
// pipeline. Plugin-declared rules are merged with the built-ins and
// stable-sorted by Priority (lower runs first).
type Rule struct {
	Name     string
	Priority int
	Pattern  *regexp.Regexp
	Replace  string
}

var builtinRules = []Rule{
	{Name: "invalid_filename_chars", Priority: 10, Pattern: regexp.MustCompile(`[<>:"/\\|?*]`), Replace: "_"},
	{Name: "ad_subscribe", Priority: 20, Pattern: regexp.MustCompile(`订阅|转发|五星|好评|关注|微信|群|更多|加我|联系|点击|搜新书|新书|推荐|上架|完本`), Replace: ""},
	{Name: "collapse_whitespace", Priority: 1000, Pattern: regexp.MustCompile(`\s+`), Replace: " "},
}

var (
	reChapterNum      = regexp.MustCompile(`第\s*\d+\s*[集回章话]`)
	reLeadsWithDigits = regexp.MustCompile(`^\d+`)
	reTrailsWithDigits = regexp.MustCompile(`\d+$`)
	reExtraMarker     = regexp.MustCompile(`(?i)番外|花絮|特典|\bSP\b|\bExtra\b`)
	rePromoBracket    = regexp.MustCompile(`[\[（(][^\]）)]*(?:订阅|转发|五星|好评|关注|微信|群|更多|加我|联系|点击|搜新书|新书|推荐|上架|完本)[^\]）)]*[\]）)]`)
	reZmAudioSuffix   = regexp.MustCompile(`(?i)-ZmAudio$`)
	reLeadDigitSep    = regexp.MustCompile(`^[\d\s\-_.、]+`)
	reTrailDigitSep   = regexp.MustCompile(`[\d\s\-_.、]+$`)
	reSeparatorEdge   = regexp.MustCompile(`^[\s\-_.、，,]+|[\s\-_.、，,]+$`)
	reFirstDigitRun   = regexp.MustCompile(`\d+`)
	reDottedExt       = regexp.MustCompile(`(?i)\.([a-z0-9]{1,5})$`)
	reBareNumber      = regexp.MustCompile(`^\d+$`)
	reBareChapterTok  = regexp.MustCompile(`^第\s*\d+\s*[集回章话]$`)
)

// Clean runs the pipeline over raw, optionally anchored to bookTitle, and
// returns the cleaned title plus whether it was flagged as an "extra"
// (bonus/special) chapter. extraRules are merged with the built-in rule
// table and stable-sorted by Priority before the final cleanup pass.
func Clean(raw string, bookTitle string, extraRules []Rule) (string, bool) {
	s := norm.NFC.String(strings.TrimSpace(raw))
	isExtra := false

	// 1. Strip a dotted extension if <=5 alphanumeric chars.
	s = reDottedExt.ReplaceAllString(s, "")

	// 2. If it contains " - ", split and pick the chapter-number part.
	if strings.Contains(s, " - ") {
		parts := strings.Split(s, " - ")
		picked := parts[len(parts)-1]
		for i := len(parts) - 1; i >= 0; i-- {
			p := strings.TrimSpace(parts[i])
			if reChapterNum.MatchString(p) || reLeadsWithDigits.MatchString(p) || reTrailsWithDigits.MatchString(p) {
				picked = parts[i]
				break
			}
		}
		s = strings.TrimSpace(picked)
	}

	// 3. Extra markers.
	if loc := reExtraMarker.FindStringIndex(s); loc != nil {
		isExtra = true
		s = reExtraMarker.ReplaceAllString(s, "")
	}

	// 4. Remove bracketed promotional groups.
	s = rePromoBracket.ReplaceAllString(s, "")

	// 5. Strip supplied book title from start/end.
	bt := strings.TrimSpace(bookTitle)
	if bt != "" {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, bt) {
			s = strings.TrimSpace(strings.TrimPrefix(s, bt))
		}
		if strings.HasSuffix(s, bt) {
			candidate := strings.TrimSpace(strings.TrimSuffix(s, bt))
			if candidate != "" && !reBareNumber.MatchString(candidate) && !reBareChapterTok.MatchString(candidate) {
				s = candidate
			}
		}
	}

	// 6. Extract 第N集/回/章/话 token; remove from working string.
	chapterToken := reChapterNum.FindString(s)
	if chapterToken != "" {
		s = strings.Replace(s, chapterToken, "", 1)
	}

	// 7. Strip leading/trailing digit+separator runs, known suffixes, punctuation.
	s = reZmAudioSuffix.ReplaceAllString(s, "")
	s = reLeadDigitSep.ReplaceAllString(s, "")
	s = reTrailDigitSep.ReplaceAllString(s, "")
	s = reSeparatorEdge.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	// 8. Empty-residue fallbacks.
	if s == "" {
		if chapterToken != "" {
			s = chapterToken
		} else if n := reFirstDigitRun.FindString(raw); n != "" {
			s = n
		}
	}
	s = strings.TrimSpace(s)

	s = applyRules(s, extraRules)

	// Mid-string extra markers can also survive the pipeline (step 3 note).
	if !isExtra && reExtraMarker.MatchString(raw) {
		isExtra = true
	}

	return s, isExtra
}

// applyRules merges extraRules with the built-ins, stable-sorts by
// Priority, and applies each in order.
func applyRules(s string, extraRules []Rule) string {
	all := make([]Rule, 0, len(builtinRules)+len(extraRules))
	all = append(all, builtinRules...)
	all = append(all, extraRules...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })
	for _, r := range all {
		if r.Pattern == nil {
			continue
		}
		s = r.Pattern.ReplaceAllString(s, r.Replace)
	}
	return strings.TrimSpace(s)
}

// ChapterIndexHint extracts a best-effort chapter index from a cleaned or
// raw title, used when no explicit chapter_regex override is configured.
func ChapterIndexHint(s string) (int, bool) {
	if m := reChapterNum.FindString(s); m != "" {
		digits := reFirstDigitRun.FindString(m)
		if n, err := strconv.Atoi(digits); err == nil {
			return n, true
		}
	}
	if m := reFirstDigitRun.FindString(s); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n, true
		}
	}
	return 0, false
}
