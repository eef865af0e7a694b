package search

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/pders01/pollsync/internal/cache"
)

// Engine searches cached polls by scanning them. It needs no index and
// serves as the fallback when the bleve index cannot be opened.
type Engine struct {
	source Source
}

func NewEngine(source Source) *Engine {
	return &Engine{source: source}
}

// Search scores every cached poll against the query terms.
func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	// staleness does not matter for search
	var results []*Result
	for _, poll := range e.source.GetPolls(0) {
		if result := e.searchPoll(poll, terms); result != nil {
			results = append(results, result)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) searchPoll(poll *cache.CachedPoll, terms []string) *Result {
	var matches []Match
	var total float64

	if score := e.scoreField(poll.Title, terms, 4.0); score > 0 {
		matches = append(matches, Match{Field: "title", Text: poll.Title, Weight: score})
		total += score
	}

	if score := e.scoreField(poll.Description, terms, 2.0); score > 0 {
		matches = append(matches, Match{
			Field:  "description",
			Text:   truncate(poll.Description, 150),
			Weight: score,
		})
		total += score
	}

	questions := questionText(&poll.PollRecord)
	if score := e.scoreField(questions, terms, 1.0); score > 0 {
		matches = append(matches, Match{
			Field:  "questions",
			Text:   e.findBestSnippet(questions, terms, 200),
			Weight: score,
		})
		total += score
	}

	if total == 0 {
		return nil
	}
	return &Result{
		PollID:      poll.PollID,
		Title:       poll.Title,
		Description: poll.Description,
		Score:       total,
		Matches:     matches,
	}
}

// scoreField calculates relevance score for a field
func (e *Engine) scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			score += 2.0
			matched++
		}
		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matched++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matched++
			case strings.Contains(word, term):
				score += 0.5
				matched++
			}
		}
	}

	// several matching terms weigh more than one repeated term
	if len(terms) > 1 && matched > 1 {
		score *= 1.0 + float64(matched)/float64(len(terms))
	}

	tf := float64(matched) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// findBestSnippet returns the window of text holding the most terms.
func (e *Engine) findBestSnippet(text string, terms []string, maxLength int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	windowSize := maxLength / 8
	if windowSize > len(words) {
		return truncate(text, maxLength)
	}

	bestScore, bestStart := 0, 0
	for i := 0; i <= len(words)-windowSize; i++ {
		window := strings.ToLower(strings.Join(words[i:i+windowSize], " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(window, term) {
				score++
			}
		}
		if score > bestScore {
			bestScore, bestStart = score, i
		}
	}
	return truncate(strings.Join(words[bestStart:bestStart+windowSize], " "), maxLength)
}

// tokenize breaks text into lower-case terms, dropping single characters.
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			if term := current.String(); len(term) > 1 {
				terms = append(terms, term)
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		terms = append(terms, current.String())
	}
	return terms
}

// truncate limits text length with ellipsis
func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}
