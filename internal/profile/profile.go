// Package profile loads the agent persona: system prompt, model settings and
// the canned reply used when no completion provider is available.
package profile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// DefaultSystemPrompt is the SEO consultant persona.
const DefaultSystemPrompt = `You are an expert SEO consultant with over 10 years of experience in search engine optimization.
You specialize in:
- On-page SEO optimization
- Keyword research and analysis
- Technical SEO audits
- Content optimization
- Link building strategies
- Local SEO
- E-commerce SEO
- SEO reporting and analytics

You provide actionable, data-driven recommendations based on current SEO best practices and Google's guidelines.
Always be specific, practical, and prioritize recommendations by impact and effort required.`

// DefaultCannedReply is streamed when no API key is available.
const DefaultCannedReply = "Thanks for your question! Start with a technical audit, fix crawl errors, then align each page title and description with one primary keyword."

// Profile describes how the agent answers.
type Profile struct {
	Name         string  `json:"name,omitempty"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	CannedReply  string  `json:"cannedReply,omitempty"`
}

// Default returns the built-in SEO profile.
func Default() Profile {
	return Profile{
		Name:         "seo-expert",
		SystemPrompt: DefaultSystemPrompt,
		Temperature:  0.7,
		CannedReply:  DefaultCannedReply,
	}
}

// Load reads a YAML (or JSON) profile from path. Fields left empty fall back
// to Default. An empty path returns Default.
func Load(path string) (Profile, error) {
	p := Default()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read profile: %w", err)
	}
	var override Profile
	if err := yaml.UnmarshalStrict(data, &override); err != nil {
		return p, fmt.Errorf("parse profile %s: %w", path, err)
	}
	p.merge(override)
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p *Profile) merge(o Profile) {
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.SystemPrompt != "" {
		p.SystemPrompt = o.SystemPrompt
	}
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Temperature != 0 {
		p.Temperature = o.Temperature
	}
	if o.CannedReply != "" {
		p.CannedReply = o.CannedReply
	}
}

// Validate checks value ranges.
func (p Profile) Validate() error {
	if p.Temperature < 0 || p.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if strings.TrimSpace(p.CannedReply) == "" {
		return errors.New("cannedReply must not be empty")
	}
	return nil
}
