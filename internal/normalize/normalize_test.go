package normalize

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bahdcoder/posthog/internal/model"
)

func fixedNormalizer() (*Normalizer, time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Normalizer{Now: func() time.Time { return now }}, now
}

func TestNormalize_BackfillsUUID(t *testing.T) {
	n, _ := fixedNormalizer()

	out, _, err := n.Normalize(&model.PipelineEvent{Event: "pageview", DistinctID: "u1"}, true)

	require.NoError(t, err)
	_, parseErr := uuid.Parse(out.UUID)
	assert.NoError(t, parseErr)
}

func TestNormalize_RejectsInvalidUUID(t *testing.T) {
	n, _ := fixedNormalizer()

	_, _, err := n.Normalize(&model.PipelineEvent{Event: "pageview", DistinctID: "u1", UUID: "not-a-uuid"}, true)
	assert.Error(t, err)
}

func TestNormalize_RejectsMissingFields(t *testing.T) {
	n, _ := fixedNormalizer()

	_, _, err := n.Normalize(&model.PipelineEvent{DistinctID: "u1"}, true)
	assert.Error(t, err, "missing event name")

	_, _, err = n.Normalize(&model.PipelineEvent{Event: "pageview"}, true)
	assert.Error(t, err, "missing distinct id")
}

func TestNormalize_HoistsIP(t *testing.T) {
	n, _ := fixedNormalizer()

	out, _, err := n.Normalize(&model.PipelineEvent{
		Event:      "pageview",
		DistinctID: "u1",
		IP:         "10.0.0.1",
	}, true)

	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", out.Properties["$ip"])

	// An explicit $ip property wins over the transport field.
	out, _, err = n.Normalize(&model.PipelineEvent{
		Event:      "pageview",
		DistinctID: "u1",
		IP:         "10.0.0.1",
		Properties: map[string]any{"$ip": "192.168.0.9"},
	}, true)

	require.NoError(t, err)
	assert.Equal(t, "192.168.0.9", out.Properties["$ip"])
}

func TestNormalize_TimestampPrecedence(t *testing.T) {
	n, now := fixedNormalizer()

	_, ts, err := n.Normalize(&model.PipelineEvent{
		Event:      "pageview",
		DistinctID: "u1",
		Timestamp:  "2024-05-01T08:30:00Z",
		SentAt:     "2024-05-01T08:31:00Z",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC), ts)

	_, ts, err = n.Normalize(&model.PipelineEvent{
		Event:      "pageview",
		DistinctID: "u1",
		SentAt:     "2024-05-01T08:31:00Z",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 31, 0, 0, time.UTC), ts)

	_, ts, err = n.Normalize(&model.PipelineEvent{
		Event:      "pageview",
		DistinctID: "u1",
		Timestamp:  "garbage",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, now, ts, "unparseable timestamps fall back to the clock")
}

func TestNormalize_PersonProcessingDisabled(t *testing.T) {
	n, _ := fixedNormalizer()

	out, _, err := n.Normalize(&model.PipelineEvent{
		Event:      "pageview",
		DistinctID: "u1",
		Properties: map[string]any{
			"$set":      map[string]any{"plan": "pro"},
			"$set_once": map[string]any{"seen": true},
			"$unset":    []any{"plan"},
			"keep":      "me",
		},
	}, false)

	require.NoError(t, err)
	assert.NotContains(t, out.Properties, "$set")
	assert.NotContains(t, out.Properties, "$set_once")
	assert.NotContains(t, out.Properties, "$unset")
	assert.Equal(t, "me", out.Properties["keep"])
	assert.Equal(t, false, out.Properties["$process_person"])
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	n, _ := fixedNormalizer()

	input := &model.PipelineEvent{
		Event:      gofakeit.Word(),
		DistinctID: gofakeit.Username(),
		IP:         gofakeit.IPv4Address(),
		Properties: map[string]any{"$set": map[string]any{"plan": "pro"}},
	}

	out, _, err := n.Normalize(input, false)
	require.NoError(t, err)
	require.NotSame(t, input, out)
	assert.Contains(t, input.Properties, "$set", "input event is never mutated in place")
	assert.NotContains(t, input.Properties, "$ip")
}
