package knowledge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/store"
)

func seedStore(t *testing.T, records ...store.InteractionRecord) *store.InMemoryInteractionStore {
	t.Helper()
	s := store.NewInMemoryInteractionStore()
	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		require.NoError(t, s.Add(context.Background(), &rec))
	}
	return s
}

func newTestSynthesizer(t *testing.T, records ...store.InteractionRecord) *Synthesizer {
	t.Helper()
	s, err := NewSynthesizer(seedStore(t, records...), zap.NewNop())
	require.NoError(t, err)
	return s
}

func itemTypes(items []*Item) map[ItemType]bool {
	out := make(map[ItemType]bool)
	for _, item := range items {
		out[item.Type] = true
	}
	return out
}

func findByContent(items []Item, substr string) *Item {
	for i := range items {
		if strings.Contains(items[i].Content, substr) {
			return &items[i]
		}
	}
	return nil
}

func TestNewSynthesizer_Validation(t *testing.T) {
	_, err := NewSynthesizer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewSynthesizer(store.NewInMemoryInteractionStore(), nil)
	assert.Error(t, err)
}

func TestSynthesize_InvalidSourceAndDepth(t *testing.T) {
	s := newTestSynthesizer(t)

	_, err := s.Synthesize(context.Background(), "bogus", DepthShallow)
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = s.Synthesize(context.Background(), SourceConversations, "bottomless")
	assert.ErrorIs(t, err, ErrInvalidDepth)
}

func TestSynthesize_ShallowExtractsFactsAndPatterns(t *testing.T) {
	s := newTestSynthesizer(t,
		store.InteractionRecord{Input: "how do i reset my password", Quality: 0.6},
		store.InteractionRecord{Input: "how do i change my email", Quality: 0.6},
		store.InteractionRecord{Input: "how do i close my account", Quality: 0.6},
		store.InteractionRecord{Input: "Tell me about the Berlin Marathon on 2024-05-12", Quality: 0.6},
	)

	result, err := s.Synthesize(context.Background(), SourceConversations, DepthShallow)
	require.NoError(t, err)

	assert.Equal(t, 4, result.RecordsExamined)
	assert.Zero(t, result.Reinforced)
	require.NotEmpty(t, result.NewItems)

	// Shallow extraction only produces facts and simple patterns.
	for _, item := range result.NewItems {
		assert.Contains(t, []ItemType{TypeFact, TypePattern}, item.Type)
	}

	items := s.Items()
	pattern := findByContent(items, `"how do i" (3 times)`)
	require.NotNil(t, pattern)
	assert.Equal(t, TypePattern, pattern.Type)
	assert.InDelta(t, 0.65, pattern.Confidence, 1e-9)

	assert.NotNil(t, findByContent(items, "Berlin Marathon"))
	assert.NotNil(t, findByContent(items, "2024-05-12"))
}

func TestSynthesize_ReinforcementBoostsConfidence(t *testing.T) {
	s := newTestSynthesizer(t,
		store.InteractionRecord{Input: "how do i reset my password", Quality: 0.6},
		store.InteractionRecord{Input: "how do i change my email", Quality: 0.6},
		store.InteractionRecord{Input: "how do i close my account", Quality: 0.6},
	)
	ctx := context.Background()

	first, err := s.Synthesize(ctx, SourceConversations, DepthShallow)
	require.NoError(t, err)
	require.Len(t, first.NewItems, 1)

	second, err := s.Synthesize(ctx, SourceConversations, DepthShallow)
	require.NoError(t, err)
	assert.Empty(t, second.NewItems)
	assert.Equal(t, 1, second.Reinforced)

	item := s.Items()[0]
	assert.InDelta(t, 0.70, item.Confidence, 1e-9)
	assert.Equal(t, 1, item.UsageCount)
}

func TestSynthesize_ReinforcementCapsConfidence(t *testing.T) {
	s := newTestSynthesizer(t,
		store.InteractionRecord{Input: "how do i reset my password", Quality: 0.6},
		store.InteractionRecord{Input: "how do i change my email", Quality: 0.6},
		store.InteractionRecord{Input: "how do i close my account", Quality: 0.6},
	)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := s.Synthesize(ctx, SourceConversations, DepthShallow)
		require.NoError(t, err)
	}

	assert.Equal(t, 1.0, s.Items()[0].Confidence)
}

func TestSynthesize_MediumAddsDerivedItems(t *testing.T) {
	var records []store.InteractionRecord
	for i := 0; i < 10; i++ {
		records = append(records, store.InteractionRecord{
			UserID:       "u1",
			Input:        "how do i improve my writing",
			Response:     "practice daily and read widely",
			Quality:      0.85,
			Satisfaction: 0.8,
			Emotion:      "joy",
		})
	}
	s := newTestSynthesizer(t, records...)

	result, err := s.Synthesize(context.Background(), SourceConversations, DepthMedium)
	require.NoError(t, err)

	types := itemTypes(result.NewItems)
	assert.True(t, types[TypeRule], "expected a response rule")
	assert.True(t, types[TypeInsight], "expected aggregate insights")
	assert.True(t, types[TypePreference], "expected a user preference")
}

func TestSynthesize_DeepAddsTemporalSkillAndRelationships(t *testing.T) {
	base := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	var records []store.InteractionRecord
	for i := 0; i < 10; i++ {
		quality := 0.7
		if i >= 5 {
			quality = 0.9
		}
		records = append(records, store.InteractionRecord{
			UserID:          "u1",
			Input:           "how do i improve resume writing skills today",
			Response:        "tailor it to the posting",
			Quality:         quality,
			Satisfaction:    0.8,
			Emotion:         "joy",
			CulturalContext: map[string]string{"locale": "es-MX"},
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
		})
	}
	s := newTestSynthesizer(t, records...)

	result, err := s.Synthesize(context.Background(), SourceConversations, DepthDeep)
	require.NoError(t, err)

	types := itemTypes(result.NewItems)
	assert.True(t, types[TypePattern], "expected temporal, emotional and cultural patterns")
	assert.True(t, types[TypeRule])
	assert.True(t, types[TypeInsight])
	assert.True(t, types[TypePreference])
	assert.True(t, types[TypeSkill], "expected a quality trend")
	assert.True(t, types[TypeRelationship], "expected topic co-occurrence")

	items := s.Items()
	assert.NotNil(t, findByContent(items, "100% of interactions happen around 14:00"))
	assert.NotNil(t, findByContent(items, "response quality improving"))

	// First run against an empty base reports knowledge gaps.
	assert.NotNil(t, findByContent(items, "knowledge gaps"))
}

func TestClusters_RequireAtLeastTwoItems(t *testing.T) {
	// A single fact never forms a cluster.
	s := newTestSynthesizer(t,
		store.InteractionRecord{Input: "is Berlin nice in spring", Quality: 0.6},
	)

	result, err := s.Synthesize(context.Background(), SourceConversations, DepthShallow)
	require.NoError(t, err)
	assert.Empty(t, result.Clusters)
	assert.Empty(t, s.Clusters())
}

func TestClusters_GroupByTypeWithSignificance(t *testing.T) {
	s := newTestSynthesizer(t,
		store.InteractionRecord{Input: "Tell me about Oslo and Bergen", Quality: 0.6},
		store.InteractionRecord{Input: "compare Lisbon with Porto for me", Quality: 0.6},
	)

	result, err := s.Synthesize(context.Background(), SourceConversations, DepthShallow)
	require.NoError(t, err)

	cluster, ok := result.Clusters[TypeFact]
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(cluster.ItemIDs), 2)
	assert.NotEmpty(t, cluster.Insights)
	assert.Equal(t, []string{"response grounding"}, cluster.Applications)

	// Entity facts share the "entity" tag, so coherence is perfect.
	assert.InDelta(t, 1.0, cluster.Coherence, 1e-9)
	assert.InDelta(t, 0.6*0.4, cluster.Significance, 1e-9)
}

func TestSynthesize_UnregisteredSourceExaminesNothing(t *testing.T) {
	s := newTestSynthesizer(t,
		store.InteractionRecord{Input: "how do i reset my password", Quality: 0.6},
	)

	result, err := s.Synthesize(context.Background(), SourcePatterns, DepthShallow)
	require.NoError(t, err)
	assert.Zero(t, result.RecordsExamined)
	assert.Empty(t, result.NewItems)
}

func TestSynthesize_AllUnionsSourcesAndDedups(t *testing.T) {
	shared := store.InteractionRecord{
		ID:      uuid.New().String(),
		Input:   "how do i reset my password",
		Quality: 0.6,
	}
	s := newTestSynthesizer(t, shared,
		store.InteractionRecord{Input: "how do i change my email", Quality: 0.6},
	)

	extra := store.InteractionRecord{
		ID:      uuid.New().String(),
		Input:   "how do i close my account",
		Quality: 0.6,
	}
	s.RegisterSource(SourceFeedback, RecordSourceFunc(
		func(ctx context.Context) ([]store.InteractionRecord, error) {
			return []store.InteractionRecord{shared, extra}, nil
		}))

	result, err := s.Synthesize(context.Background(), SourceAll, DepthShallow)
	require.NoError(t, err)

	// The shared record is counted once across sources.
	assert.Equal(t, 3, result.RecordsExamined)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, jaccard(nil, nil))
	assert.Equal(t, 1.0, jaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 1.0/3.0, jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.Equal(t, 0.0, jaccard([]string{"a"}, []string{"b"}))
}

func TestMergeStrings(t *testing.T) {
	got := mergeStrings([]string{"a", "b"}, []string{"b", "c", "a"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
