package nodes

import (
	"context"
	"net/url"
	"strings"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultSystemPrompt is used when an AI node has no systemPrompt.
const DefaultSystemPrompt = "You are an assistant. Answer the user's question."

// GenerateRequest is a single-turn completion request.
type GenerateRequest struct {
	Model  string
	System string
	Prompt string
}

// TextGenerator produces a completion with the given API key.
type TextGenerator interface {
	Generate(ctx context.Context, apiKey string, req GenerateRequest) (string, error)
}

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	BaseURL string
	HTTP    HTTPConfig
}

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// NewGeminiClient creates a client. An empty baseURL targets the public API.
func NewGeminiClient(baseURL string, cfg HTTPConfig) *GeminiClient {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: cfg.withDefaults()}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func (c *GeminiClient) Generate(ctx context.Context, apiKey string, req GenerateRequest) (string, error) {
	payload := map[string]any{
		"systemInstruction": geminiContent{Parts: []geminiPart{{Text: req.System}}},
		"contents":          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	var parsed struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
	}
	endpoint := c.BaseURL + "/models/" + url.PathEscape(req.Model) + ":generateContent"
	headers := map[string]string{"x-goog-api-key": apiKey}
	if err := postJSON(ctx, c.HTTP, "Gemini", endpoint, headers, payload, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// ChatCompletionClient calls an OpenAI-compatible chat completions endpoint,
// which is what DeepSeek exposes.
type ChatCompletionClient struct {
	BaseURL string
	HTTP    HTTPConfig
	label   string
}

const defaultDeepSeekBaseURL = "https://api.deepseek.com"

// NewDeepSeekClient creates a client. An empty baseURL targets the public API.
func NewDeepSeekClient(baseURL string, cfg HTTPConfig) *ChatCompletionClient {
	if baseURL == "" {
		baseURL = defaultDeepSeekBaseURL
	}
	return &ChatCompletionClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: cfg.withDefaults(), label: "DeepSeek"}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *ChatCompletionClient) Generate(ctx context.Context, apiKey string, req GenerateRequest) (string, error) {
	payload := map[string]any{
		"model": req.Model,
		"messages": []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
	}
	var parsed struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	if err := postJSON(ctx, c.HTTP, c.label, c.BaseURL+"/chat/completions", headers, payload, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// AIExecutor implements the GEMINI and DEEPSEEK nodes.
//
// Config: variableName, credentialId and userPrompt are required; systemPrompt
// and model are optional. Both prompts are templated. The completion lands in
// the context as {variableName: {text}}.
type AIExecutor struct {
	base
	label        string
	step         string
	defaultModel string
	credentials  secrets.CredentialResolver
	generator    TextGenerator
}

// NewGeminiExecutor creates the GEMINI executor.
func NewGeminiExecutor(creds secrets.CredentialResolver, gen TextGenerator) *AIExecutor {
	return &AIExecutor{
		base:         base{nodeType: schema.NodeTypeGemini},
		label:        "Gemini",
		step:         "gemini-generate-text",
		defaultModel: "gemini-2.0-flash",
		credentials:  creds,
		generator:    gen,
	}
}

// NewDeepSeekExecutor creates the DEEPSEEK executor.
func NewDeepSeekExecutor(creds secrets.CredentialResolver, gen TextGenerator) *AIExecutor {
	return &AIExecutor{
		base:         base{nodeType: schema.NodeTypeDeepSeek},
		label:        "DeepSeek",
		step:         "deepseek-generate-text",
		defaultModel: "deepseek-chat",
		credentials:  creds,
		generator:    gen,
	}
}

type aiConfig struct {
	variableName string
	credentialID string
	userPrompt   string
	systemPrompt string
	model        string
}

func (e *AIExecutor) parseConfig(m map[string]any) (aiConfig, error) {
	var c aiConfig
	var err error
	if c.variableName, err = requireString(m, e.label, "variableName"); err != nil {
		return c, err
	}
	if c.credentialID, err = requireString(m, e.label, "credentialId"); err != nil {
		return c, err
	}
	if c.userPrompt, err = requireString(m, e.label, "userPrompt"); err != nil {
		return c, err
	}
	c.systemPrompt = stringParam(m, "systemPrompt", "")
	c.model = stringParam(m, "model", e.defaultModel)
	return c, nil
}

func (e *AIExecutor) Execute(ctx context.Context, p Params) (schema.Context, error) {
	return run(ctx, p, e.Channel(), func(ctx context.Context) (schema.Context, error) {
		cfg, err := e.parseConfig(p.Config)
		if err != nil {
			return schema.Context{}, err
		}
		vars := p.Context.Map()
		req := GenerateRequest{Model: cfg.model, System: DefaultSystemPrompt}
		if cfg.systemPrompt != "" {
			if req.System, err = expressions.Render(cfg.systemPrompt, vars); err != nil {
				return schema.Context{}, err
			}
		}
		if req.Prompt, err = expressions.Render(cfg.userPrompt, vars); err != nil {
			return schema.Context{}, err
		}

		text, err := runStep(ctx, p.Steps, e.step, func(ctx context.Context) (string, error) {
			// The key is resolved inside the step so it never reaches the step log.
			apiKey, err := e.credentials.Resolve(ctx, cfg.credentialID, p.UserID)
			if err != nil {
				return "", err
			}
			return e.generator.Generate(ctx, apiKey, req)
		})
		if err != nil {
			return schema.Context{}, err
		}
		return p.Context.With(cfg.variableName, map[string]any{"text": text})
	})
}
