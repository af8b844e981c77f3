// ABOUTME: Bounded fallback ladder for stateful turns rejected before streaming
// ABOUTME: Degrades the request one step per client-class rejection, each step audible as a notice

package orchestrator

import (
	"fmt"

	"github.com/parleyhq/parley/internal/upstream"
)

// fallbackLadder mutates a stateful request one step at a time after the
// upstream rejects it before any output. Only client-class rejections are
// retried; server failures and mid-stream failures are terminal.
type fallbackLadder struct {
	fallbackModel string
	step          int
}

// maximum degradation steps per turn
const maxFallbackSteps = 2

// apply degrades req in place and returns the notice text for the step
// taken. ok is false when the ladder is exhausted or the error is not
// retryable.
func (l *fallbackLadder) apply(req *upstream.ResponseRequest, err error) (notice string, ok bool) {
	apiErr, isAPI := upstream.AsAPIError(err)
	if !isAPI || !apiErr.IsClientError() {
		return "", false
	}

	for l.step < maxFallbackSteps {
		l.step++
		switch l.step {
		case 1:
			if req.Prompt == nil {
				continue
			}
			req.Prompt = nil
			return "prompt template unavailable, continuing without it", true
		case 2:
			if l.fallbackModel == "" || l.fallbackModel == req.Model {
				continue
			}
			req.Model = l.fallbackModel
			return fmt.Sprintf("switched to fallback model %s", l.fallbackModel), true
		}
	}
	return "", false
}
