package plugins

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/model"
)

func testChainLogger() *logging.Logger {
	return logging.New(slog.LevelError, "text")
}

func tagging(name string) Plugin {
	return Plugin{
		Name: name,
		ProcessEvent: func(ctx context.Context, event *model.PipelineEvent) (*model.PipelineEvent, error) {
			out := event.Clone()
			if out.Properties == nil {
				out.Properties = map[string]any{}
			}
			out.Properties[name] = true
			return out, nil
		},
	}
}

func TestProcess_RunsInOrder(t *testing.T) {
	chain := NewChain(testChainLogger(), tagging("first"), tagging("second"))

	out, err := chain.Process(context.Background(), &model.PipelineEvent{Event: "pageview"}, true)

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, true, out.Properties["first"])
	assert.Equal(t, true, out.Properties["second"])
}

func TestProcess_DeprecatedGated(t *testing.T) {
	deprecated := tagging("legacy")
	deprecated.Deprecated = true
	chain := NewChain(testChainLogger(), tagging("current"), deprecated)

	out, err := chain.Process(context.Background(), &model.PipelineEvent{Event: "pageview"}, false)

	require.NoError(t, err)
	assert.Equal(t, true, out.Properties["current"])
	assert.NotContains(t, out.Properties, "legacy")

	out, err = chain.Process(context.Background(), &model.PipelineEvent{Event: "pageview"}, true)
	require.NoError(t, err)
	assert.Equal(t, true, out.Properties["legacy"])
}

func TestProcess_Veto(t *testing.T) {
	veto := Plugin{
		Name: "filter",
		ProcessEvent: func(ctx context.Context, event *model.PipelineEvent) (*model.PipelineEvent, error) {
			return nil, nil
		},
	}
	reached := false
	after := Plugin{
		Name: "after",
		ProcessEvent: func(ctx context.Context, event *model.PipelineEvent) (*model.PipelineEvent, error) {
			reached = true
			return event, nil
		},
	}
	chain := NewChain(testChainLogger(), veto, after)

	out, err := chain.Process(context.Background(), &model.PipelineEvent{Event: "pageview"}, true)

	require.NoError(t, err)
	assert.Nil(t, out, "vetoed event returns nil without error")
	assert.False(t, reached, "later plugins do not run after a veto")
}

func TestProcess_ErrorWrapsPluginName(t *testing.T) {
	failing := Plugin{
		Name: "broken",
		ProcessEvent: func(ctx context.Context, event *model.PipelineEvent) (*model.PipelineEvent, error) {
			return nil, errors.New("vm crashed")
		},
	}
	chain := NewChain(testChainLogger(), failing)

	_, err := chain.Process(context.Background(), &model.PipelineEvent{Event: "pageview"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestProcess_EmptyChain(t *testing.T) {
	chain := NewChain(testChainLogger())
	event := &model.PipelineEvent{Event: "pageview"}

	out, err := chain.Process(context.Background(), event, true)
	require.NoError(t, err)
	assert.Same(t, event, out)
}
