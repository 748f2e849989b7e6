package knowledge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/haldanelabs/learnd/internal/store"
)

// Extraction thresholds.
const (
	minPatternFrequency   = 3
	minRuleQuality        = 0.8
	minInsightRecords     = 10
	minPreferenceRecords  = 5
	minTemporalShare      = 0.2
	minCooccurrence       = 3
	skillTrendImprovement = 0.05
)

var (
	// entityRegex matches capitalized word sequences (rough named-entity
	// proxy; the real tokenizer is an external collaborator).
	entityRegex = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

	// dateRegex matches common date shapes.
	dateRegex = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2})\b`)

	// questionPrefixes are the input openers mined as simple patterns.
	questionPrefixes = []string{
		"how do i", "how can i", "what is", "what are", "can you",
		"tell me", "i want to", "i need", "where is", "why does",
	}
)

// extractFacts pulls named entities and dates out of user inputs
// (shallow depth).
func extractFacts(records []store.InteractionRecord, source Source) []*Item {
	var items []*Item
	seen := make(map[string]bool)

	for _, rec := range records {
		for _, entity := range entityRegex.FindAllString(rec.Input, 3) {
			if len(entity) < 3 || seen[entity] {
				continue
			}
			seen[entity] = true
			items = append(items, newItem(TypeFact,
				fmt.Sprintf("user mentioned entity %q", entity),
				0.6, 0.4, source, "entity"))
		}
		for _, date := range dateRegex.FindAllString(rec.Input, 2) {
			key := "date:" + date
			if seen[key] {
				continue
			}
			seen[key] = true
			items = append(items, newItem(TypeFact,
				fmt.Sprintf("user referenced date %s", date),
				0.7, 0.3, source, "date"))
		}
	}
	return items
}

// extractSimplePatterns mines recurring input openers (shallow depth).
func extractSimplePatterns(records []store.InteractionRecord, source Source) []*Item {
	counts := make(map[string]int)
	for _, rec := range records {
		input := strings.ToLower(rec.Input)
		for _, prefix := range questionPrefixes {
			if strings.HasPrefix(input, prefix) {
				counts[prefix]++
				break
			}
		}
	}

	var items []*Item
	for prefix, count := range counts {
		if count < minPatternFrequency {
			continue
		}
		conf := 0.5 + float64(count)/20
		if conf > 0.9 {
			conf = 0.9
		}
		items = append(items, newItem(TypePattern,
			fmt.Sprintf("users frequently open with %q (%d times)", prefix, count),
			conf, 0.5, source, "input-pattern"))
	}
	return items
}

// extractRules derives response rules from high-quality pairs
// (medium depth).
func extractRules(records []store.InteractionRecord, source Source) []*Item {
	byOpener := make(map[string][]store.InteractionRecord)
	for _, rec := range records {
		if rec.Quality < minRuleQuality {
			continue
		}
		input := strings.ToLower(rec.Input)
		for _, prefix := range questionPrefixes {
			if strings.HasPrefix(input, prefix) {
				byOpener[prefix] = append(byOpener[prefix], rec)
				break
			}
		}
	}

	var items []*Item
	for prefix, recs := range byOpener {
		if len(recs) < minPatternFrequency {
			continue
		}
		avgLen := 0
		for _, r := range recs {
			avgLen += len(r.Response)
		}
		avgLen /= len(recs)
		items = append(items, newItem(TypeRule,
			fmt.Sprintf("for %q questions, responses around %d characters score highest", prefix, avgLen),
			0.75, 0.7, source, "response-rule", "quality"))
	}
	return items
}

// extractAggregateInsights summarizes success and satisfaction
// statistics (medium depth).
func extractAggregateInsights(records []store.InteractionRecord, source Source) []*Item {
	if len(records) < minInsightRecords {
		return nil
	}

	var qualitySum, satisfactionSum float64
	var followUps int
	for _, rec := range records {
		qualitySum += rec.Quality
		satisfactionSum += rec.Satisfaction
		if rec.FollowedUp {
			followUps++
		}
	}
	n := float64(len(records))

	return []*Item{
		newItem(TypeInsight,
			fmt.Sprintf("average response quality %.2f over %d interactions", qualitySum/n, len(records)),
			0.8, 0.6, source, "quality", "aggregate"),
		newItem(TypeInsight,
			fmt.Sprintf("average user satisfaction %.2f with %.0f%% follow-up rate",
				satisfactionSum/n, float64(followUps)/n*100),
			0.8, 0.7, source, "satisfaction", "aggregate"),
	}
}

// extractPreferences infers per-user preferences (medium depth).
func extractPreferences(records []store.InteractionRecord, source Source) []*Item {
	byUser := make(map[string][]store.InteractionRecord)
	for _, rec := range records {
		if rec.UserID != "" {
			byUser[rec.UserID] = append(byUser[rec.UserID], rec)
		}
	}

	var items []*Item
	for userID, recs := range byUser {
		if len(recs) < minPreferenceRecords {
			continue
		}
		emotions := make(map[string]int)
		for _, r := range recs {
			if r.Emotion != "" {
				emotions[r.Emotion]++
			}
		}
		if dominant, count := maxCount(emotions); count >= minPatternFrequency {
			items = append(items, newItem(TypePreference,
				fmt.Sprintf("user %s most often expresses %s", userID, dominant),
				0.7, 0.6, source, "user", "emotion"))
		}
	}
	return items
}

// extractTemporalPatterns buckets activity by hour of day (deep depth).
func extractTemporalPatterns(records []store.InteractionRecord, source Source) []*Item {
	if len(records) == 0 {
		return nil
	}
	hours := make(map[int]int)
	for _, rec := range records {
		hours[rec.Timestamp.Hour()]++
	}

	var items []*Item
	for hour, count := range hours {
		share := float64(count) / float64(len(records))
		if share < minTemporalShare {
			continue
		}
		items = append(items, newItem(TypePattern,
			fmt.Sprintf("%.0f%% of interactions happen around %02d:00", share*100, hour),
			share, 0.5, source, "temporal"))
	}
	return items
}

// extractEmotionalPatterns mines recurring emotions (deep depth).
func extractEmotionalPatterns(records []store.InteractionRecord, source Source) []*Item {
	emotions := make(map[string]int)
	for _, rec := range records {
		if rec.Emotion != "" {
			emotions[rec.Emotion]++
		}
	}

	var items []*Item
	for emotion, count := range emotions {
		if count < minPatternFrequency {
			continue
		}
		items = append(items, newItem(TypePattern,
			fmt.Sprintf("emotion %q recurs across %d interactions", emotion, count),
			0.65, 0.5, source, "emotional"))
	}
	return items
}

// extractCulturalPatterns mines cultural context markers (deep depth).
func extractCulturalPatterns(records []store.InteractionRecord, source Source) []*Item {
	markers := make(map[string]int)
	for _, rec := range records {
		for k, v := range rec.CulturalContext {
			markers[k+"="+v]++
		}
	}

	var items []*Item
	for marker, count := range markers {
		if count < minPatternFrequency {
			continue
		}
		items = append(items, newItem(TypePattern,
			fmt.Sprintf("cultural marker %s present in %d interactions", marker, count),
			0.65, 0.5, source, "cultural"))
	}
	return items
}

// extractSkillTrends detects monotonic quality improvement by comparing
// chronological halves (deep depth).
func extractSkillTrends(records []store.InteractionRecord, source Source) []*Item {
	if len(records) < minInsightRecords {
		return nil
	}

	sorted := make([]store.InteractionRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	mid := len(sorted) / 2
	first := avgQuality(sorted[:mid])
	second := avgQuality(sorted[mid:])

	if second-first < skillTrendImprovement {
		return nil
	}
	return []*Item{newItem(TypeSkill,
		fmt.Sprintf("response quality improving: %.2f to %.2f across the window", first, second),
		0.75, 0.8, source, "trend", "quality")}
}

// extractRelationships maps co-occurring topic terms (deep depth).
func extractRelationships(records []store.InteractionRecord, source Source) []*Item {
	pairs := make(map[string]int)
	for _, rec := range records {
		terms := topicTerms(rec.Input)
		for i := 0; i < len(terms); i++ {
			for j := i + 1; j < len(terms); j++ {
				a, b := terms[i], terms[j]
				if a > b {
					a, b = b, a
				}
				pairs[a+"+"+b]++
			}
		}
	}

	var items []*Item
	for pair, count := range pairs {
		if count < minCooccurrence {
			continue
		}
		parts := strings.SplitN(pair, "+", 2)
		items = append(items, newItem(TypeRelationship,
			fmt.Sprintf("topics %q and %q co-occur in %d interactions", parts[0], parts[1], count),
			0.6, 0.5, source, "co-occurrence"))
	}
	return items
}

// extractMetaKnowledge reports gaps in expected knowledge types and the
// quality distribution (deep depth). Reads the current base, so it runs
// on the synthesizer.
func (s *Synthesizer) extractMetaKnowledge(records []store.InteractionRecord, source Source) []*Item {
	s.mu.Lock()
	present := make(map[ItemType]bool)
	for _, item := range s.items {
		present[item.Type] = true
	}
	s.mu.Unlock()

	var items []*Item
	var missing []string
	for _, t := range AllItemTypes() {
		if !present[t] {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		items = append(items, newItem(TypeInsight,
			fmt.Sprintf("knowledge gaps: no %s items accumulated yet", strings.Join(missing, ", ")),
			0.7, 0.6, source, "meta", "gap"))
	}

	if len(records) >= minInsightRecords {
		var low, high int
		for _, rec := range records {
			if rec.Quality < 0.5 {
				low++
			} else if rec.Quality > 0.8 {
				high++
			}
		}
		items = append(items, newItem(TypeInsight,
			fmt.Sprintf("quality distribution: %d high, %d low of %d interactions", high, low, len(records)),
			0.75, 0.5, source, "meta", "quality"))
	}
	return items
}

// avgQuality averages record quality.
func avgQuality(records []store.InteractionRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.Quality
	}
	return sum / float64(len(records))
}

// topicTerms pulls lowercase words longer than 4 characters as rough
// topic markers, capped at 5 per record.
func topicTerms(input string) []string {
	words := strings.Fields(strings.ToLower(input))
	var terms []string
	seen := make(map[string]bool)
	for _, w := range words {
		w = strings.Trim(w, ".,!?\"'")
		if len(w) <= 4 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == 5 {
			break
		}
	}
	return terms
}

// maxCount returns the key with the highest count.
func maxCount(m map[string]int) (string, int) {
	var bestKey string
	var bestCount int
	for k, v := range m {
		if v > bestCount {
			bestKey, bestCount = k, v
		}
	}
	return bestKey, bestCount
}
