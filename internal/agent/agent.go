// Package agent executes routed tasks. An agent augments its prompt
// with retrieval context and typed resource data when those components
// are enabled, and degrades to a deterministic summary when no LLM
// provider is configured.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/fault"
	"github.com/seopilot/seopilot/internal/llm"
	"github.com/seopilot/seopilot/internal/registry"
	"github.com/seopilot/seopilot/internal/resource"
	"github.com/seopilot/seopilot/internal/retrieval"
)

// Task is the unit of work handed to an agent by the router.
type Task struct {
	ID      string
	Type    string
	Payload map[string]any
}

// Output is what a completed execution produced.
type Output struct {
	Text           string                  `json:"text"`
	ContextChunks  int                     `json:"context_chunks"`
	ResourceSource resource.ResponseSource `json:"resource_source,omitempty"`
	Model          string                  `json:"model,omitempty"`
	TokensUsed     int                     `json:"tokens_used,omitempty"`
}

// resourceTypeFor maps each task type to the dataset it consumes.
var resourceTypeFor = map[string]resource.Type{
	"keyword_research":    resource.TypeKeywordData,
	"content_brief":       resource.TypeSEOData,
	"technical_audit":     resource.TypeSEOData,
	"competitor_analysis": resource.TypeCompetitiveData,
	"lead_scoring":        resource.TypeClientData,
	"reporting":           resource.TypeClientData,
	"link_outreach":       resource.TypeBacklinkData,
}

// Config tunes one agent's execution behavior.
type Config struct {
	Model     string
	TopK      int
	Threshold float32
}

// Agent is one executable worker. The index and resources fields may
// be nil when the corresponding capability failed to initialize; the
// descriptor's enable flags reflect that.
type Agent struct {
	desc      *registry.Descriptor
	index     *retrieval.Index
	resources *resource.Provider
	router    *llm.Router
	cfg       Config
	logger    *zap.Logger
}

// New wires an agent around its registry descriptor.
func New(desc *registry.Descriptor, index *retrieval.Index, resources *resource.Provider, router *llm.Router, cfg Config, logger *zap.Logger) *Agent {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.7
	}
	return &Agent{
		desc:      desc,
		index:     index,
		resources: resources,
		router:    router,
		cfg:       cfg,
		logger:    logger,
	}
}

// ID returns the agent's registry ID.
func (a *Agent) ID() string { return a.desc.ID }

// Descriptor returns the agent's registry descriptor.
func (a *Agent) Descriptor() *registry.Descriptor { return a.desc }

// ResourceHealth reports the agent's provider health, or a zero record
// when the provider is disabled.
func (a *Agent) ResourceHealth() resource.HealthRecord {
	if a.resources == nil {
		return resource.HealthRecord{ComponentID: a.desc.ID, Status: resource.StatusUnavailable}
	}
	return a.resources.HealthCheck()
}

// Execute runs one task to completion. Retrieval failures degrade to
// an uncontexted prompt; resource and LLM failures fail the task with
// a typed fault so the caller can classify it.
func (a *Agent) Execute(ctx context.Context, task *Task) (*Output, error) {
	out := &Output{}

	var contextBlock string
	if a.desc.EnableRetrieval && a.index != nil {
		results, err := a.index.Search(ctx, a.queryFor(task), a.cfg.TopK, a.cfg.Threshold)
		if err != nil {
			// Missing context degrades answer quality but is not fatal.
			a.logger.Warn("retrieval failed, continuing without context",
				zap.String("agent", a.desc.ID),
				zap.String("task", task.ID),
				zap.Error(err))
		} else {
			contextBlock = retrieval.FormatContext(results)
			out.ContextChunks = len(results)
		}
	}

	var resourceBlock string
	if a.desc.EnableProvider && a.resources != nil {
		resp, err := a.fetchResource(ctx, task)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			resourceBlock = formatResource(resp)
			out.ResourceSource = resp.Source
		}
	}

	if a.router == nil || a.router.Empty() {
		out.Text = a.summarize(task, contextBlock, resourceBlock)
		return out, nil
	}

	resp, err := a.router.Route(ctx, a.desc.ID, &llm.ChatRequest{
		Model: a.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: a.systemPrompt()},
			{Role: "user", Content: a.userPrompt(task, contextBlock, resourceBlock)},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.KindTransient, "agent.llm",
			fmt.Errorf("agent %s task %s: %w", a.desc.ID, task.ID, err))
	}
	out.Text = resp.Content
	out.Model = resp.Model
	out.TokensUsed = resp.Usage.TotalTokens
	return out, nil
}

// queryFor derives the retrieval query from the task payload, falling
// back to the task type when nothing more specific is present.
func (a *Agent) queryFor(task *Task) string {
	for _, key := range []string{"query", "topic", "domain", "client"} {
		if v, ok := task.Payload[key].(string); ok && v != "" {
			return v
		}
	}
	return strings.ReplaceAll(task.Type, "_", " ")
}

func (a *Agent) fetchResource(ctx context.Context, task *Task) (*resource.Response, error) {
	rtype, ok := resourceTypeFor[task.Type]
	if !ok {
		return nil, nil
	}
	key := a.queryFor(task)
	params := make(map[string]string)
	for k, v := range task.Payload {
		if s, ok := v.(string); ok {
			params[k] = s
		}
	}
	return a.resources.Fetch(ctx, resource.Request{Type: rtype, Key: key, Parameters: params})
}

func (a *Agent) systemPrompt() string {
	return fmt.Sprintf("You are an SEO agency %s agent. Ground every claim in the provided context and data; state uncertainty explicitly.", a.desc.Tier)
}

func (a *Agent) userPrompt(task *Task, contextBlock, resourceBlock string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", strings.ReplaceAll(task.Type, "_", " "))
	if len(task.Payload) > 0 {
		b.WriteString("Inputs:\n")
		for _, k := range sortedKeys(task.Payload) {
			fmt.Fprintf(&b, "- %s: %v\n", k, task.Payload[k])
		}
	}
	if contextBlock != "" {
		b.WriteByte('\n')
		b.WriteString(contextBlock)
	}
	if resourceBlock != "" {
		b.WriteByte('\n')
		b.WriteString(resourceBlock)
	}
	return b.String()
}

// summarize produces the no-LLM degraded output: a deterministic
// report of what was gathered, so pipelines keep moving.
func (a *Agent) summarize(task *Task, contextBlock, resourceBlock string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s completed by %s agent %s.\n",
		task.ID, strings.ReplaceAll(task.Type, "_", " "), a.desc.Tier, a.desc.ID)
	if contextBlock != "" {
		b.WriteString(contextBlock)
	}
	if resourceBlock != "" {
		b.WriteString(resourceBlock)
	}
	if contextBlock == "" && resourceBlock == "" {
		b.WriteString("No supporting context or data was available.\n")
	}
	return b.String()
}

func formatResource(resp *resource.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Resource Data (source: %s)\n\n", resp.Source)
	for _, k := range sortedKeys(resp.Payload) {
		fmt.Fprintf(&b, "- %s: %v\n", k, resp.Payload[k])
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
