package judge

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-veritas/internal/domain"
)

// parseFailurePrefix marks reasoning that carries the raw reply because no
// score could be recovered.
const parseFailurePrefix = "[parse failure] "

// minNameSimilarity is the lowest normalized Levenshtein similarity at which
// a judge-reported criterion name is matched to a rubric criterion.
const minNameSimilarity = 0.8

// foldCaser folds criterion names before comparison.
var foldCaser = cases.Fold()

// Fallback score patterns, tried in order. finalScorePattern tolerates the
// quotes of a JSON key and value that failed to decode.
var (
	finalScorePattern = regexp.MustCompile(`(?i)final[\s_-]*score["'\s*:=]*(-?\d+(?:\.\d+)?)`)
	fractionPattern   = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)`)
	pointsPattern     = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*points?\b`)
)

// percentScale is the denominator treated as a score on any rubric scale.
const percentScale = 100

// judgeReply is the structured reply requested from the judge.
type judgeReply struct {
	CriteriaEvaluations []criterionEvaluation `json:"criteria_evaluations"`
	OverallReasoning    string                `json:"overall_reasoning"`
	FinalScore          *number               `json:"final_score"`
}

type criterionEvaluation struct {
	Criterion string `json:"criterion"`
	Name      string `json:"name"`
	Score     number `json:"score"`
	MaxScore  number `json:"max_score"`
	Met       bool   `json:"met"`
	Reasoning string `json:"reasoning"`
}

// number decodes a JSON number or a string holding one, such as "85".
// null leaves the value unchanged.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("score %s is not a number", data)
	}
	*n = number(v)
	return nil
}

// Parse extracts a grade from a judge reply. It never fails: a reply
// without a recognizable score produces a zero score whose reasoning holds
// an excerpt of the reply. The score is clamped to [0, rubric.MaxScore].
func Parse(reply string, rubric domain.Rubric) domain.Grade {
	if g, ok := parseStructured(reply, rubric); ok {
		g.Score = clampScore(g.Score, rubric.MaxScore)
		return g
	}

	if score, ok := parseFreeText(reply, rubric.MaxScore); ok {
		return domain.Grade{
			Score:     clampScore(score, rubric.MaxScore),
			MaxScore:  rubric.MaxScore,
			Reasoning: strings.TrimSpace(reply),
			Fallback:  true,
		}
	}

	return domain.Grade{
		Score:     0,
		MaxScore:  rubric.MaxScore,
		Reasoning: parseFailurePrefix + excerpt(reply, excerptLength),
		Fallback:  true,
	}
}

// parseStructured decodes the JSON verdict. Every JSON object in the reply
// is tried in order, fenced blocks first, and the first one carrying a
// final_score wins. It reports false when no object qualifies.
func parseStructured(reply string, rubric domain.Rubric) (domain.Grade, bool) {
	for _, raw := range jsonObjects(reply) {
		var out judgeReply
		if err := json.Unmarshal([]byte(raw), &out); err != nil || out.FinalScore == nil {
			continue
		}
		score := float64(*out.FinalScore)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}

		return domain.Grade{
			Score:          score,
			MaxScore:       rubric.MaxScore,
			Reasoning:      out.OverallReasoning,
			CriteriaScores: matchCriteria(out.CriteriaEvaluations, rubric.Criteria),
		}, true
	}
	return domain.Grade{}, false
}

// matchCriteria maps judge evaluations onto rubric criteria, returning the
// scores in rubric order. Names are compared case-insensitively and
// tolerate small spelling differences. Evaluations that match no criterion
// are dropped; a criterion is matched at most once.
func matchCriteria(evals []criterionEvaluation, criteria []domain.Criterion) []domain.CriterionScore {
	if len(evals) == 0 || len(criteria) == 0 {
		return nil
	}

	folded := make([]string, len(criteria))
	for i, c := range criteria {
		folded[i] = foldName(c.Name)
	}

	matched := make([]*domain.CriterionScore, len(criteria))
	for _, ev := range evals {
		name := ev.Criterion
		if name == "" {
			name = ev.Name
		}
		idx := bestCriterion(foldName(name), folded, matched)
		if idx < 0 {
			continue
		}
		matched[idx] = &domain.CriterionScore{
			Criterion: criteria[idx].Name,
			Score:     float64(ev.Score),
			MaxScore:  float64(ev.MaxScore),
			Met:       ev.Met,
			Reasoning: ev.Reasoning,
		}
	}

	var scores []domain.CriterionScore
	for _, s := range matched {
		if s != nil {
			scores = append(scores, *s)
		}
	}
	return scores
}

// bestCriterion returns the index of the unmatched criterion most similar
// to name, or -1 when none reaches minNameSimilarity.
func bestCriterion(name string, folded []string, taken []*domain.CriterionScore) int {
	if name == "" {
		return -1
	}

	best, bestSim := -1, 0.0
	for i, candidate := range folded {
		if taken[i] != nil {
			continue
		}
		if candidate == name {
			return i
		}
		if sim := similarity(name, candidate); sim >= minNameSimilarity && sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best
}

// similarity returns 1 - distance/maxLen over runes.
func similarity(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func foldName(s string) string {
	return strings.Join(strings.Fields(foldCaser.String(s)), " ")
}

// parseFreeText recovers a score from unstructured text.
func parseFreeText(reply string, maxScore float64) (float64, bool) {
	if m := finalScorePattern.FindStringSubmatch(reply); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}

	if v, ok := fractionScore(reply, maxScore); ok {
		return v, true
	}

	if m := pointsPattern.FindStringSubmatch(reply); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}

	return 0, false
}

// fractionScore picks the fraction most likely to be the score and rescales
// it to maxScore. The last fraction over maxScore or 100 wins; otherwise the
// last proper fraction (numerator not above denominator) is used. Fractions
// that are part of a longer slash-separated run, such as dates, are ignored.
func fractionScore(reply string, maxScore float64) (float64, bool) {
	var scaled, proper *[2]float64

	for _, loc := range fractionPattern.FindAllStringSubmatchIndex(reply, -1) {
		if !standaloneFraction(reply, loc[0], loc[1]) {
			continue
		}
		num, err1 := strconv.ParseFloat(reply[loc[2]:loc[3]], 64)
		den, err2 := strconv.ParseFloat(reply[loc[4]:loc[5]], 64)
		if err1 != nil || err2 != nil || den <= 0 {
			continue
		}

		f := [2]float64{num, den}
		switch {
		case den == maxScore || den == percentScale:
			scaled = &f
		case num >= 0 && num <= den:
			proper = &f
		}
	}

	best := scaled
	if best == nil {
		best = proper
	}
	if best == nil {
		return 0, false
	}
	num, den := best[0], best[1]
	if den == maxScore {
		return num, true
	}
	return num / den * maxScore, true
}

// standaloneFraction reports whether reply[start:end] is not glued to
// neighbouring digits or slashes.
func standaloneFraction(reply string, start, end int) bool {
	if start > 0 {
		switch c := reply[start-1]; {
		case c == '/' || c == '.' || (c >= '0' && c <= '9'):
			return false
		}
	}
	if end < len(reply) {
		switch c := reply[end]; {
		case c == '/' || (c >= '0' && c <= '9'):
			return false
		case c == '.' && end+1 < len(reply) && reply[end+1] >= '0' && reply[end+1] <= '9':
			return false
		}
	}
	return true
}

// jsonObjects returns the candidate JSON objects in response: the object in
// a fenced code block first, then every balanced object in order of its
// opening brace.
func jsonObjects(response string) []string {
	response = strings.TrimSpace(response)

	var objects []string
	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			if candidate := strings.TrimSpace(body[:end]); strings.HasPrefix(candidate, "{") {
				if obj := balancedObject(candidate, 0); obj != "" {
					objects = append(objects, obj)
				}
			}
		}
	}

	for i := 0; i < len(response); i++ {
		if response[i] != '{' {
			continue
		}
		if obj := balancedObject(response, i); obj != "" {
			objects = append(objects, obj)
		}
	}
	return objects
}

// balancedObject returns the object starting at s[start], skipping braces
// inside string literals.
func balancedObject(s string, start int) string {
	depth := 0
	inString, escaped := false, false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func clampScore(score, maxScore float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > maxScore:
		return maxScore
	default:
		return score
	}
}

// excerpt returns at most n runes of s, trimmed.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s...", string(runes[:n]))
}
