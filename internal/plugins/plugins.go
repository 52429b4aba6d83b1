// Package plugins runs the per-team transformation chain. The execution
// sandbox lives elsewhere; this package only sequences registered plugins
// over one event.
package plugins

import (
	"context"
	"fmt"

	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/model"
)

// ProcessFunc transforms one event. Returning nil drops the event.
type ProcessFunc func(ctx context.Context, event *model.PipelineEvent) (*model.PipelineEvent, error)

// Plugin is one registered transformation.
type Plugin struct {
	Name string

	// Deprecated plugins are expensive and only run when person processing
	// is enabled for the event.
	Deprecated bool

	ProcessEvent ProcessFunc
}

// Chain executes plugins in registration order.
type Chain struct {
	plugins []Plugin
	log     *logging.Logger
}

// NewChain constructs a chain.
func NewChain(log *logging.Logger, plugins ...Plugin) *Chain {
	return &Chain{plugins: plugins, log: log}
}

// Process runs every applicable plugin. A nil return with nil error means a
// plugin intentionally dropped the event.
func (c *Chain) Process(ctx context.Context, event *model.PipelineEvent, runDeprecated bool) (*model.PipelineEvent, error) {
	current := event
	for _, p := range c.plugins {
		if p.Deprecated && !runDeprecated {
			continue
		}
		next, err := p.ProcessEvent(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p.Name, err)
		}
		if next == nil {
			c.log.Debug("plugin dropped event",
				logging.Event(current.Event),
				logging.DistinctID(current.DistinctID),
			)
			return nil, nil
		}
		current = next
	}
	return current, nil
}
