package invoke

import (
	"context"
	"strings"

	"github.com/antigravity-dev/relay/internal/config"
)

// DefaultLocalEndpoint is the local inference server's generate endpoint.
const DefaultLocalEndpoint = "http://127.0.0.1:11434/api/generate"

// invokeLocal posts to the local inference server. It is the backend for
// models configured "local" and the last resort for model names with no
// configuration at all.
func (r *Registry) invokeLocal(ctx context.Context, model string, m config.Model, prompt string) (Result, error) {
	endpoint := strings.TrimSpace(m.Endpoint)
	if endpoint == "" {
		endpoint = DefaultLocalEndpoint
	}
	return r.postGenerate(ctx, model, m, endpoint, "", prompt)
}
