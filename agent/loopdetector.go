package agent

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/tandem-cli/tandem/llm"
)

const (
	// toolRepeatThreshold trips on N consecutive identical tool calls
	// (same name and arguments).
	toolRepeatThreshold = 10

	// Name-only counters for strict model profiles: bulk read tools get the
	// lower threshold, everything else the higher one. These trip
	// regardless of argument variation.
	highCostNameThreshold = 4
	defaultNameThreshold  = 5

	// Chant detection over streamed text.
	maxSentences   = 100
	maxTotalChars  = 16384
	chantThreshold = 10
	maxNGramSize   = 10
)

// highCostTools are the bulk file/content-search tools whose repetition is
// expensive enough to warrant the stricter threshold.
var highCostTools = map[string]bool{
	"search_files": true,
	"list_files":   true,
}

// LoopDetector scans the canonical event stream of one turn for runaway
// repetition: identical tool calls, name-only tool churn on strict model
// profiles, and chanted text spans. Check returns true exactly once per loop
// occurrence; the caller must then end the turn with feedback.
type LoopDetector struct {
	strict bool

	lastFingerprint string
	consecutive     int
	nameCounts      map[string]int

	sentences     []string
	totalChars    int
	patternCounts map[string]int
	sentenceRegex *regexp.Regexp

	tripped bool
}

func NewLoopDetector(strict bool) *LoopDetector {
	d := &LoopDetector{strict: strict}
	d.sentenceRegex = regexp.MustCompile(`[.!?]+(?:\s+|["'\)]*\s+|["'\)]*$)`)
	d.Reset()
	return d
}

// Reset clears per-turn state. Called at the start of every turn.
func (d *LoopDetector) Reset() {
	d.lastFingerprint = ""
	d.consecutive = 0
	d.nameCounts = make(map[string]int)
	d.sentences = d.sentences[:0]
	d.totalChars = 0
	d.patternCounts = make(map[string]int)
	d.tripped = false
}

// Check feeds one canonical event through the heuristics and reports
// whether a loop was detected. Once tripped, subsequent calls return false
// until Reset.
func (d *LoopDetector) Check(ev llm.Event) bool {
	if d.tripped {
		return false
	}
	switch ev.Kind {
	case llm.EventToolCall:
		if d.checkToolCall(ev.ToolCall) {
			d.tripped = true
			return true
		}
	case llm.EventTextDelta:
		if d.checkText(ev.Text) {
			d.tripped = true
			return true
		}
	}
	return false
}

func (d *LoopDetector) checkToolCall(call *llm.ToolCall) bool {
	fp := fingerprint(call.Name, string(call.Arguments))
	if fp == d.lastFingerprint {
		d.consecutive++
	} else {
		d.lastFingerprint = fp
		d.consecutive = 1
	}
	if d.consecutive >= toolRepeatThreshold {
		return true
	}

	if d.strict {
		d.nameCounts[call.Name]++
		threshold := defaultNameThreshold
		if highCostTools[call.Name] {
			threshold = highCostNameThreshold
		}
		if d.nameCounts[call.Name] >= threshold {
			return true
		}
	}
	return false
}

// fingerprint hashes tool name plus arguments for exact-repetition checks.
func fingerprint(name, arguments string) string {
	h := sha256.Sum256([]byte(arguments))
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// checkText buffers streamed text as sentences and counts repeating n-gram
// patterns over a bounded window.
func (d *LoopDetector) checkText(text string) bool {
	for _, sentence := range d.splitSentences(text) {
		d.addSentence(sentence)
	}
	return d.checkChant()
}

func (d *LoopDetector) splitSentences(text string) []string {
	if text == "" {
		return nil
	}
	parts := d.sentenceRegex.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		sentence := strings.TrimSpace(part)
		if sentence == "" {
			continue
		}
		sentences = append(sentences, strings.Join(strings.Fields(sentence), " "))
	}
	return sentences
}

func (d *LoopDetector) addSentence(sentence string) {
	d.sentences = append(d.sentences, sentence)
	d.totalChars += len(sentence)
	for (len(d.sentences) > maxSentences || d.totalChars > maxTotalChars) && len(d.sentences) > 0 {
		d.totalChars -= len(d.sentences[0])
		d.sentences = d.sentences[1:]
	}
}

func (d *LoopDetector) checkChant() bool {
	n := len(d.sentences)
	if n < 2 {
		return false
	}
	d.patternCounts = make(map[string]int)
	maxN := maxNGramSize
	if n < maxN {
		maxN = n
	}
	for size := 1; size <= maxN; size++ {
		for i := 0; i <= n-size; i++ {
			pattern := strings.Join(d.sentences[i:i+size], " | ")
			d.patternCounts[pattern]++
			if d.patternCounts[pattern] > chantThreshold {
				return true
			}
		}
	}
	return false
}
