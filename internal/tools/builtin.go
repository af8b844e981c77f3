// ABOUTME: Builtin tools shipped with the gateway
// ABOUTME: Registered by the binary at startup; config selects which are exposed

package tools

import (
	"context"
	"fmt"
	"time"
)

// CurrentTime reports the current time, optionally in a named zone.
type CurrentTime struct {
	// Now is the time source, overridable in tests.
	Now func() time.Time
}

func (c *CurrentTime) Name() string        { return "current_time" }
func (c *CurrentTime) Description() string { return "Get the current date and time" }

func (c *CurrentTime) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name, defaults to UTC",
			},
		},
	}
}

func (c *CurrentTime) Execute(_ context.Context, args map[string]any) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
		loc = parsed
	}

	return now().In(loc).Format(time.RFC3339), nil
}
