package nodes

import (
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Deps are the collaborators of the built-in executors.
type Deps struct {
	Credentials secrets.CredentialResolver
	HTTP        HTTPConfig
	// Gemini and DeepSeek default to the public APIs when nil.
	Gemini   TextGenerator
	DeepSeek TextGenerator
}

// NewDefaultRegistry registers an executor for every node type.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	if deps.Credentials == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "credential resolver is required")
	}
	httpCfg := deps.HTTP.withDefaults()
	if deps.Gemini == nil {
		deps.Gemini = NewGeminiClient("", httpCfg)
	}
	if deps.DeepSeek == nil {
		deps.DeepSeek = NewDeepSeekClient("", httpCfg)
	}

	r := NewRegistry()
	execs := []Executor{
		NewTriggerExecutor(schema.NodeTypeInitial),
		NewTriggerExecutor(schema.NodeTypeManualTrigger),
		NewTriggerExecutor(schema.NodeTypeGoogleFormTrigger),
		NewTriggerExecutor(schema.NodeTypeStripeTrigger),
		NewHTTPRequestExecutor(httpCfg),
		NewGeminiExecutor(deps.Credentials, deps.Gemini),
		NewDeepSeekExecutor(deps.Credentials, deps.DeepSeek),
		NewDiscordExecutor(httpCfg),
		NewSlackExecutor(httpCfg),
	}
	for _, e := range execs {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}
