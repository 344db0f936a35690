package gateway

import "time"

// FallbackPolicy is the documented ordered fallback list for the gateway:
// when opening a completion against one model fails, the next model in the
// list is attempted, each attempt bounded by AttemptTimeout up to the first
// response byte. The policy replaces ad hoc per-endpoint branching.
type FallbackPolicy struct {
	Models         []string
	AttemptTimeout time.Duration
}

// attempts returns the ordered model list for a request, starting with the
// requested model and deduplicating against the fallbacks.
func (p FallbackPolicy) attempts(primary string) []string {
	models := make([]string, 0, 1+len(p.Models))
	if primary != "" {
		models = append(models, primary)
	}
	for _, m := range p.Models {
		if m == "" || m == primary {
			continue
		}
		models = append(models, m)
	}
	return models
}

func (p FallbackPolicy) attemptTimeout() time.Duration {
	if p.AttemptTimeout <= 0 {
		return 15 * time.Second
	}
	return p.AttemptTimeout
}
