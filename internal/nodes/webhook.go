package nodes

import (
	"context"
	"net/url"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	// MaxMessageLength is the longest message content a chat node keeps.
	MaxMessageLength = 2000
	// DefaultBotUsername is the Discord username used when none is configured.
	DefaultBotUsername = "Workflow Bot"
)

// ChatWebhookExecutor implements the DISCORD and SLACK nodes: it renders
// content against the context and posts it to an incoming webhook.
//
// Config: content (templated), webhookUrl and variableName are required.
// Discord also takes an optional username. The stored result is
// {variableName: {messageContent}} with the content cut to MaxMessageLength.
type ChatWebhookExecutor struct {
	base
	label   string
	step    string
	http    HTTPConfig
	payload func(content string, cfg map[string]any) map[string]any
}

// NewDiscordExecutor creates the DISCORD executor. Discord rejects messages
// over 2000 characters, so the posted content is truncated as well.
func NewDiscordExecutor(cfg HTTPConfig) *ChatWebhookExecutor {
	return &ChatWebhookExecutor{
		base:  base{nodeType: schema.NodeTypeDiscord},
		label: "Discord",
		step:  "discord-webhook",
		http:  cfg.withDefaults(),
		payload: func(content string, m map[string]any) map[string]any {
			username := stringParam(m, "username", "")
			if username == "" {
				username = DefaultBotUsername
			}
			return map[string]any{
				"content":  truncate(content, MaxMessageLength),
				"username": username,
			}
		},
	}
}

// NewSlackExecutor creates the SLACK executor. The full content is posted.
func NewSlackExecutor(cfg HTTPConfig) *ChatWebhookExecutor {
	return &ChatWebhookExecutor{
		base:  base{nodeType: schema.NodeTypeSlack},
		label: "Slack",
		step:  "slack-webhook",
		http:  cfg.withDefaults(),
		payload: func(content string, _ map[string]any) map[string]any {
			return map[string]any{"content": content}
		},
	}
}

type chatConfig struct {
	content      string
	webhookURL   string
	variableName string
}

func (e *ChatWebhookExecutor) parseConfig(m map[string]any) (chatConfig, error) {
	var c chatConfig
	var err error
	if c.content, err = requireString(m, e.label, "content"); err != nil {
		return c, err
	}
	if c.webhookURL, err = requireString(m, e.label, "webhookUrl"); err != nil {
		return c, err
	}
	if u, perr := url.ParseRequestURI(c.webhookURL); perr != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return c, schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid webhookUrl", e.label).
			WithDetails(map[string]any{"field": "webhookUrl"})
	}
	if c.variableName, err = requireString(m, e.label, "variableName"); err != nil {
		return c, err
	}
	return c, nil
}

func (e *ChatWebhookExecutor) Execute(ctx context.Context, p Params) (schema.Context, error) {
	return run(ctx, p, e.Channel(), func(ctx context.Context) (schema.Context, error) {
		cfg, err := e.parseConfig(p.Config)
		if err != nil {
			return schema.Context{}, err
		}
		content, err := expressions.Render(cfg.content, p.Context.Map())
		if err != nil {
			return schema.Context{}, err
		}
		payload := e.payload(content, p.Config)

		return runStep(ctx, p.Steps, e.step, func(ctx context.Context) (schema.Context, error) {
			if err := postJSON(ctx, e.http, e.label, cfg.webhookURL, nil, payload, nil); err != nil {
				return schema.Context{}, err
			}
			return p.Context.With(cfg.variableName, map[string]any{
				"messageContent": truncate(content, MaxMessageLength),
			})
		})
	})
}
