// Package sanitizer cleans free text before it is indexed or mailed out.
//
// Two modes exist. Catalog mode produces lower-case alphanumeric text for the
// recommendation index, with every redaction placeholder dropped. Message mode
// keeps case, basic punctuation and the placeholders, and additionally removes
// shaming and pressure phrases from outbound copy.
package sanitizer

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Mode selects the sanitization profile.
type Mode string

const (
	ModeCatalog Mode = "catalog"
	ModeMessage Mode = "message"
)

// Category tags a class of content that was removed.
type Category string

const (
	RemovedMarkup       Category = "markup"
	RemovedEmail        Category = "email"
	RemovedURL          Category = "url"
	RemovedUUID         Category = "uuid"
	RemovedUserID       Category = "user_id"
	RemovedNumber       Category = "number"
	RemovedMention      Category = "mention"
	RemovedManipulative Category = "manipulative"
	RemovedSpecialChars Category = "special_chars"
)

// Redaction placeholders. Message mode leaves them in the text.
const (
	PlaceholderEmail  = "[EMAIL_REMOVED]"
	PlaceholderURL    = "[URL_REMOVED]"
	PlaceholderUUID   = "[ID_REMOVED]"
	PlaceholderUserID = "[USER_ID_REMOVED]"
	PlaceholderNumber = "[NUMBER_REMOVED]"
)

// maxPasses bounds the fixed-point iteration in Clean.
const maxPasses = 4

var (
	markupPattern  = regexp.MustCompile(`<[^>]+>`)
	emailPattern   = regexp.MustCompile(`\b[\w.\-]+@[\w.\-]+\.\w{2,}\b`)
	urlPattern     = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)
	uuidPattern    = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	userIDPattern  = regexp.MustCompile(`(?i)\b(?:user|uid|id|account)[_\-:]?\d+\b`)
	numberPattern  = regexp.MustCompile(`\b\d{4,}\b`)
	mentionPattern = regexp.MustCompile(`[@#]\w+`)
	spacePattern   = regexp.MustCompile(`\s+`)

	placeholderPattern = regexp.MustCompile(`\[(?:EMAIL|URL|ID|USER_ID|NUMBER)_REMOVED\]`)

	catalogSpecials = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	messageSpecials = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?\-'%$\[\]]`)
)

// manipulativePhrases are removed from outbound copy. Longer phrases come
// first so they win over the single words they contain.
var manipulativePhrases = []string{
	`what['’]s wrong with you`,
	`act now or never`,
	`don['’]t be a fool`,
	`you['’]ll regret`,
	`missing out`,
	`last chance`,
	`regret`,
	`failure`,
	`shame`,
	`stupid`,
	`idiot`,
	`loser`,
	`pathetic`,
	`worthless`,
	`fomo`,
}

var manipulativePattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(manipulativePhrases, "|") + `)\b`)

type redaction struct {
	pattern     *regexp.Regexp
	placeholder string
	category    Category
}

// Order matters: emails before URLs so mailto-like tokens are tagged as email.
var redactions = []redaction{
	{emailPattern, PlaceholderEmail, RemovedEmail},
	{urlPattern, PlaceholderURL, RemovedURL},
	{uuidPattern, PlaceholderUUID, RemovedUUID},
	{userIDPattern, PlaceholderUserID, RemovedUserID},
	{numberPattern, PlaceholderNumber, RemovedNumber},
}

// Result is the audit view of one Clean call.
type Result struct {
	Text    string
	Mode    Mode
	Removed []Category
}

// Has reports whether category c was removed.
func (r Result) Has(c Category) bool {
	for _, got := range r.Removed {
		if got == c {
			return true
		}
	}
	return false
}

// Sanitizer is safe for concurrent use.
type Sanitizer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sanitizer{logger: logger}
}

// Sanitize returns only the cleaned text.
func (s *Sanitizer) Sanitize(text string, mode Mode) string {
	return s.Clean(text, mode).Text
}

// Clean sanitizes text and reports what was removed. The passes are repeated
// until the output stops changing, so Clean(Clean(x)) == Clean(x).
func (s *Sanitizer) Clean(text string, mode Mode) Result {
	res := Result{Mode: mode}
	if text == "" {
		return res
	}

	seen := make(map[Category]bool)
	out := text
	for i := 0; i < maxPasses; i++ {
		next := s.pass(out, mode, seen, &res.Removed)
		if next == out {
			break
		}
		out = next
	}
	res.Text = out

	if len(res.Removed) > 0 {
		fields := []zap.Field{
			zap.String("mode", string(mode)),
			zap.Any("removed", res.Removed),
			zap.Int("original_len", len(text)),
			zap.Int("sanitized_len", len(out)),
		}
		if mode == ModeMessage {
			s.logger.Info("[SAFE_SANITIZER] text sanitized", fields...)
		} else {
			s.logger.Debug("[SAFE_SANITIZER] text sanitized", fields...)
		}
	}
	return res
}

func (s *Sanitizer) pass(text string, mode Mode, seen map[Category]bool, removed *[]Category) string {
	mark := func(c Category) {
		if !seen[c] {
			seen[c] = true
			*removed = append(*removed, c)
		}
	}

	out := text
	if markupPattern.MatchString(out) {
		mark(RemovedMarkup)
		out = markupPattern.ReplaceAllString(out, " ")
	}

	for _, r := range redactions {
		if !r.pattern.MatchString(out) {
			continue
		}
		mark(r.category)
		out = r.pattern.ReplaceAllLiteralString(out, r.placeholder)
	}

	if mentionPattern.MatchString(out) {
		mark(RemovedMention)
		out = mentionPattern.ReplaceAllString(out, " ")
	}

	switch mode {
	case ModeCatalog:
		out = placeholderPattern.ReplaceAllString(out, " ")
		if catalogSpecials.MatchString(out) {
			mark(RemovedSpecialChars)
			out = catalogSpecials.ReplaceAllString(out, " ")
		}
		out = strings.ToLower(out)
	default:
		out = collapse(out)
		for manipulativePattern.MatchString(out) {
			mark(RemovedManipulative)
			out = collapse(manipulativePattern.ReplaceAllString(out, " "))
		}
		if messageSpecials.MatchString(out) {
			mark(RemovedSpecialChars)
			out = messageSpecials.ReplaceAllString(out, " ")
		}
	}

	return collapse(out)
}

func collapse(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
