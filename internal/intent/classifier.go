package intent

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Config tunes the classifier. Zero values get sane defaults.
type Config struct {
	// DefaultSubject is the record variant a lone comparator binds to
	// ("thấp nhất" with no subject noun). Historically income.
	DefaultSubject Subject

	// MemoSize and MemoTTL bound the normalized-input -> intent memo.
	MemoSize int
	MemoTTL  time.Duration
}

// Classifier resolves raw chat input to an Intent. It is deterministic:
// the same (original, folded) pair always yields the same Intent.
type Classifier struct {
	catalog *Catalog
	subject Subject
	memo    *lru.LRU[string, Intent]
	logger  *zap.Logger
}

// NewClassifier builds a classifier over the given catalog.
func NewClassifier(catalog *Catalog, cfg Config, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultSubject == "" {
		cfg.DefaultSubject = SubjectIncome
	}
	if cfg.MemoSize == 0 {
		cfg.MemoSize = 1024
	}
	if cfg.MemoTTL == 0 {
		cfg.MemoTTL = 10 * time.Minute
	}
	return &Classifier{
		catalog: catalog,
		subject: cfg.DefaultSubject,
		memo:    lru.NewLRU[string, Intent](cfg.MemoSize, nil, cfg.MemoTTL),
		logger:  logger.Named("classifier"),
	}
}

// matchQuality ranks how a single trigger group matched. Exact matches
// outrank matches that needed the edit-distance fallback.
type matchQuality int

const (
	matchNone matchQuality = iota
	matchFuzzy
	matchExact
)

// Classify scans the catalog against both input forms and returns the
// winning Intent. Selection: highest specificity, then the rule with
// more exactly-matched groups (a rule whose subject matched exactly
// outranks one that only reached the subject through the typo fallback),
// then earliest catalog position. No match returns Unrecognized.
func (c *Classifier) Classify(original, folded string) Intent {
	if folded == "" {
		return Unrecognized
	}

	origLower := strings.ToLower(original)
	key := folded + "\x1f" + origLower
	if cached, ok := c.memo.Get(key); ok {
		return cached
	}

	best := Unrecognized
	bestSpec := -1
	bestExact := -1

	for _, rule := range c.catalog.Rules {
		matched, exactGroups := matchRule(rule, origLower, folded)
		if !matched {
			continue
		}
		if rule.Specificity > bestSpec ||
			(rule.Specificity == bestSpec && exactGroups > bestExact) {
			best = rule.Intent
			bestSpec = rule.Specificity
			bestExact = exactGroups
		}
	}

	resolved := c.resolveGeneric(best)
	c.memo.Add(key, resolved)

	if resolved == Unrecognized {
		c.logger.Debug("no rule matched", zap.String("folded", folded))
	}
	return resolved
}

// resolveGeneric binds the comparator-only catalog targets to the
// configured default subject.
func (c *Classifier) resolveGeneric(in Intent) Intent {
	switch in {
	case genericMin:
		return c.subject.minIntent()
	case genericMax:
		return c.subject.maxIntent()
	default:
		return in
	}
}

// matchRule requires every trigger group to match and reports how many
// of them matched exactly. The count, not the weakest group, feeds the
// ranking: collapsing to the minimum would let a rule that fuzzy-matched
// every group tie with one whose subject noun was typed verbatim.
func matchRule(rule Rule, origLower, folded string) (matched bool, exactGroups int) {
	for _, group := range rule.Groups {
		switch matchGroup(group, origLower, folded) {
		case matchNone:
			return false, 0
		case matchExact:
			exactGroups++
		}
	}
	return true, exactGroups
}

// matchGroup tests each variant as a substring of the accented original
// and of the folded form. If nothing matches exactly, folded variants get
// one more chance through a bounded edit-distance window scan.
func matchGroup(group []string, origLower, folded string) matchQuality {
	for _, v := range group {
		if strings.Contains(origLower, v) || strings.Contains(folded, v) {
			return matchExact
		}
	}
	for _, v := range group {
		if !isFoldedVariant(v) {
			continue
		}
		if fuzzyContains(folded, v) {
			return matchFuzzy
		}
	}
	return matchNone
}

// isFoldedVariant reports whether v is already in folded (ASCII) form.
// Accented variants are skipped by the fuzzy pass; their folded twins
// in the same group cover them.
func isFoldedVariant(v string) bool {
	for _, r := range v {
		if r >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// fuzzyContains slides a window of len(words(variant)) words over the
// folded input and accepts when the edit distance to the variant stays
// within a bound scaled to the variant length. Short variants get a tight
// bound so unrelated words cannot collide.
func fuzzyContains(folded, variant string) bool {
	runeLen := utf8.RuneCountInString(variant)
	if runeLen < 4 {
		// Too short for fuzzy matching: "vay" is one edit away from
		// "nay" and would fire on ordinary words.
		return false
	}
	maxDist := 1
	if runeLen >= 7 {
		maxDist = 2
	}

	words := strings.Fields(folded)
	span := len(strings.Fields(variant))
	if span == 0 || len(words) < span {
		return false
	}
	for i := 0; i+span <= len(words); i++ {
		window := strings.Join(words[i:i+span], " ")
		if levenshtein.ComputeDistance(window, variant) <= maxDist {
			return true
		}
	}
	return false
}
