package patterns

import (
	"fmt"
	"sort"

	"github.com/haldanelabs/learnd/internal/store"
)

// Analyzer thresholds.
const (
	minConversationPairs = 3
	topActionsPerUser    = 5
	minTemporalShare     = 0.2
)

// analyzeConversation groups input→output pairs by normalized input and
// proposes a pattern for any input observed at least three times.
// Confidence is min(0.95, avgQuality * count/10).
func analyzeConversation(records []store.InteractionRecord) []Candidate {
	type pairStats struct {
		count      int
		qualitySum float64
	}
	byInput := make(map[string]*pairStats)
	for _, rec := range records {
		key := normalize(rec.Input)
		if key == "" {
			continue
		}
		st, ok := byInput[key]
		if !ok {
			st = &pairStats{}
			byInput[key] = st
		}
		st.count++
		st.qualitySum += rec.Quality
	}

	var candidates []Candidate
	for input, st := range byInput {
		if st.count < minConversationPairs {
			continue
		}
		avgQuality := st.qualitySum / float64(st.count)
		confidence := clamp(avgQuality*float64(st.count)/10, 0, 0.95)
		candidates = append(candidates, Candidate{
			Type:       TypeConversation,
			Pattern:    input,
			Confidence: confidence,
			Frequency:  st.count,
			Context:    map[string]string{"avg_quality": fmt.Sprintf("%.2f", avgQuality)},
		})
	}
	return candidates
}

// analyzeBehavioral ranks each user's top-5 actions by frequency and
// proposes a pattern per recurring action.
func analyzeBehavioral(records []store.InteractionRecord) []Candidate {
	type userAction struct {
		user   string
		action string
	}
	counts := make(map[userAction]int)
	for _, rec := range records {
		if rec.UserID == "" || rec.Action == "" {
			continue
		}
		counts[userAction{rec.UserID, rec.Action}]++
	}

	byUser := make(map[string][]userAction)
	for ua := range counts {
		byUser[ua.user] = append(byUser[ua.user], ua)
	}

	var candidates []Candidate
	for user, actions := range byUser {
		sort.Slice(actions, func(i, j int) bool {
			return counts[actions[i]] > counts[actions[j]]
		})
		if len(actions) > topActionsPerUser {
			actions = actions[:topActionsPerUser]
		}
		for _, ua := range actions {
			count := counts[ua]
			candidates = append(candidates, Candidate{
				Type:       TypeBehavior,
				Pattern:    fmt.Sprintf("user %s action %s", user, ua.action),
				Confidence: clamp(0.4+float64(count)/10, 0, 0.9),
				Frequency:  count,
				Context:    map[string]string{"user": user, "action": ua.action},
			})
		}
	}
	return candidates
}

// analyzeEmotional proposes a pattern per recurring detected emotion.
func analyzeEmotional(records []store.InteractionRecord) []Candidate {
	type emoStats struct {
		count           int
		satisfactionSum float64
	}
	emotions := make(map[string]*emoStats)
	for _, rec := range records {
		if rec.Emotion == "" {
			continue
		}
		st, ok := emotions[rec.Emotion]
		if !ok {
			st = &emoStats{}
			emotions[rec.Emotion] = st
		}
		st.count++
		st.satisfactionSum += rec.Satisfaction
	}

	var candidates []Candidate
	for emotion, st := range emotions {
		avgSatisfaction := st.satisfactionSum / float64(st.count)
		candidates = append(candidates, Candidate{
			Type:       TypeEmotional,
			Pattern:    fmt.Sprintf("emotion %s", emotion),
			Confidence: clamp(0.4+avgSatisfaction/2, 0, 0.9),
			Frequency:  st.count,
			Context:    map[string]string{"avg_satisfaction": fmt.Sprintf("%.2f", avgSatisfaction)},
		})
	}
	return candidates
}

// analyzeCultural proposes a pattern per recurring cultural marker.
func analyzeCultural(records []store.InteractionRecord) []Candidate {
	markers := make(map[string]int)
	for _, rec := range records {
		for k, v := range rec.CulturalContext {
			markers[k+" "+v]++
		}
	}

	var candidates []Candidate
	for marker, count := range markers {
		candidates = append(candidates, Candidate{
			Type:       TypeCultural,
			Pattern:    fmt.Sprintf("cultural %s", marker),
			Confidence: clamp(0.4+float64(count)/10, 0, 0.9),
			Frequency:  count,
		})
	}
	return candidates
}

// analyzeTemporal buckets interactions by hour of day and proposes a
// pattern for hours holding more than 20% of the window.
func analyzeTemporal(records []store.InteractionRecord) []Candidate {
	if len(records) == 0 {
		return nil
	}
	hours := make(map[int]int)
	for _, rec := range records {
		hours[rec.Timestamp.Hour()]++
	}

	var candidates []Candidate
	for hour, count := range hours {
		share := float64(count) / float64(len(records))
		if share < minTemporalShare {
			continue
		}
		candidates = append(candidates, Candidate{
			Type:       TypeTemporal,
			Pattern:    fmt.Sprintf("peak hour %02d", hour),
			Confidence: clamp(share*2, 0, 0.9),
			Frequency:  count,
			Context:    map[string]string{"share": fmt.Sprintf("%.2f", share)},
		})
	}
	return candidates
}
