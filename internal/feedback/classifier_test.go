package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComplaintClassifier_Classify(t *testing.T) {
	classifier := NewComplaintClassifier()

	tests := []struct {
		name string
		text string
		want ComplaintCategory
	}{
		{"wrong answer", "The answer was completely wrong", ComplaintAccuracy},
		{"made up facts", "It made up a citation that does not exist", ComplaintAccuracy},
		{"hallucination", "The model is hallucinating sources again", ComplaintAccuracy},
		{"slow", "Way too slow, I waited forever", ComplaintResponseTime},
		{"laggy", "The assistant feels laggy today", ComplaintResponseTime},
		{"took forever", "It took forever to respond", ComplaintResponseTime},
		{"culturally insensitive", "That joke was offensive in my culture", ComplaintCulturalInsensitivity},
		{"stereotyping", "Stop stereotyping people from my country", ComplaintCulturalInsensitivity},
		{"robotic", "Responses feel robotic and impersonal", ComplaintEmotionalLack},
		{"no empathy", "There was no empathy in that reply", ComplaintEmotionalLack},
		{"tone deaf", "That was a tone-deaf response to bad news", ComplaintEmotionalLack},
		{"neutral", "Thanks, that was helpful", ComplaintNone},
		{"empty", "", ComplaintNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifier.Classify(tt.text))
		})
	}
}

func TestComplaintClassifier_FirstMatchWins(t *testing.T) {
	classifier := NewComplaintClassifier()

	// Text matching both accuracy and response time rules classifies as
	// accuracy because that rule is ordered first.
	got := classifier.Classify("The answer was wrong and it was slow")
	assert.Equal(t, ComplaintAccuracy, got)
}
