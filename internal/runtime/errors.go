package runtime

import (
	"fmt"

	"github.com/arvo-systems/agentloop/internal/retrypolicy"
)

// errStreamIdle and errStreamClosedEarly wrap retrypolicy.ErrUpstreamUnavailable
// so Classify treats them as transient stream interruptions without the
// runtime package needing its own classification rules.
var (
	errStreamIdle        = fmt.Errorf("runtime: stream idle timeout: %w", retrypolicy.ErrUpstreamUnavailable)
	errStreamClosedEarly = fmt.Errorf("runtime: stream closed before response_done: %w", retrypolicy.ErrUpstreamUnavailable)
)
