package excerpt

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Budgets are estimated prompt tokens for an email body per task.
const (
	SentimentBudget  = 800
	ExtractionBudget = 1500
	ReplyBudget      = 2000
)

const maxChunkRunes = 1200

type Chunk struct {
	Index int
	Text  string
	Score float64
}

type Result struct {
	Text      string
	Chunks    []Chunk
	Tokens    int
	Truncated bool
}

var (
	paragraphSplit  = regexp.MustCompile(`\n\s*\n`)
	repeatedSpace   = regexp.MustCompile(`\s+`)
	signalKeywords  = []string{"urgent", "asap", "deadline", "error", "cannot", "can't", "failed", "refund", "invoice", "order"}
	quotedReplyLead = []string{">", "on ", "from:", "sent:"}
)

// Build keeps as much of body as fits in maxTokens. Bodies already within
// budget come back unchanged. Otherwise paragraphs are scored, the best ones
// are kept and emitted in their original order, separated by "[...]".
func Build(body string, maxTokens int) Result {
	trimmed := strings.TrimSpace(body)
	tokens := EstimateTokens(trimmed)
	if maxTokens <= 0 || tokens <= maxTokens {
		return Result{Text: trimmed, Tokens: tokens}
	}

	chunks := dedupe(split(trimmed))
	ranked := append([]Chunk(nil), chunks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score == ranked[j].Score {
			return ranked[i].Index < ranked[j].Index
		}
		return ranked[i].Score > ranked[j].Score
	})

	selected := make([]Chunk, 0, len(ranked))
	total := 0
	for _, chunk := range ranked {
		cost := EstimateTokens(chunk.Text)
		if cost <= 0 || total+cost > maxTokens {
			continue
		}
		selected = append(selected, chunk)
		total += cost
	}

	if len(selected) == 0 {
		head := truncateRunes(trimmed, maxTokens*4)
		return Result{Text: head, Tokens: EstimateTokens(head), Truncated: true}
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Index < selected[j].Index })
	parts := make([]string, 0, len(selected))
	for _, chunk := range selected {
		parts = append(parts, chunk.Text)
	}
	return Result{
		Text:      strings.Join(parts, "\n[...]\n"),
		Chunks:    selected,
		Tokens:    total,
		Truncated: true,
	}
}

// EstimateTokens approximates model tokens as four runes each.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	count := utf8.RuneCountInString(trimmed) / 4
	if count < 1 {
		count = 1
	}
	return count
}

func split(body string) []Chunk {
	paragraphs := paragraphSplit.Split(body, -1)
	chunks := make([]Chunk, 0, len(paragraphs))
	for _, paragraph := range paragraphs {
		text := strings.TrimSpace(paragraph)
		if text == "" {
			continue
		}
		for _, piece := range splitLong(text) {
			index := len(chunks)
			chunks = append(chunks, Chunk{Index: index, Text: piece, Score: score(index, piece)})
		}
	}
	return chunks
}

func splitLong(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxChunkRunes {
		return []string{text}
	}
	pieces := make([]string, 0, len(runes)/maxChunkRunes+1)
	for start := 0; start < len(runes); start += maxChunkRunes {
		end := start + maxChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, strings.TrimSpace(string(runes[start:end])))
	}
	return pieces
}

// score favors the opening of the message, questions and problem words, and
// pushes quoted earlier replies down.
func score(index int, text string) float64 {
	value := 100.0 - float64(index*3)
	lowered := strings.ToLower(text)

	if strings.Contains(lowered, "?") {
		value += 6
	}
	for _, keyword := range signalKeywords {
		if strings.Contains(lowered, keyword) {
			value += 8
			break
		}
	}
	for _, lead := range quotedReplyLead {
		if strings.HasPrefix(lowered, lead) {
			value -= 40
			break
		}
	}
	if index == 0 {
		value += 20
	}
	if value < 1 {
		value = 1
	}
	return value
}

func dedupe(chunks []Chunk) []Chunk {
	seen := make(map[string]struct{}, len(chunks))
	result := make([]Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		key := strings.ToLower(repeatedSpace.ReplaceAllString(chunk.Text, " "))
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, chunk)
	}
	return result
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}
