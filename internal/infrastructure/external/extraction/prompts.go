// Package extraction holds the prompts and response decoding shared by the
// AI extractor implementations.
package extraction

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompt is one system/user prompt pair with its model parameters.
type Prompt struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds the prompts of the three extraction calls.
type PromptConfig struct {
	Descriptors Prompt `yaml:"descriptors"`
	Identity    Prompt `yaml:"identity"`
	Allocations Prompt `yaml:"allocations"`
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() *PromptConfig {
	prompts, err := parsePrompts(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return prompts
}

// LoadPrompts reads prompts from a YAML file. Sections missing from the
// file keep their built-in value. An empty path returns the defaults.
func LoadPrompts(path string) (*PromptConfig, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	if err := prompts.validate(); err != nil {
		return nil, err
	}
	return prompts, nil
}

func parsePrompts(data []byte) (*PromptConfig, error) {
	var prompts PromptConfig
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	if err := prompts.validate(); err != nil {
		return nil, err
	}
	return &prompts, nil
}

func (c *PromptConfig) validate() error {
	for name, p := range map[string]Prompt{
		"descriptors": c.Descriptors,
		"identity":    c.Identity,
		"allocations": c.Allocations,
	} {
		if p.UserTemplate == "" {
			return fmt.Errorf("prompt %s: user_template is required", name)
		}
		if _, err := newTemplate(p.UserTemplate); err != nil {
			return fmt.Errorf("prompt %s: %w", name, err)
		}
	}
	return nil
}

// DescriptorsPrompt renders the multi-invoice detection prompt.
func (c *PromptConfig) DescriptorsPrompt(pageCount int) (string, error) {
	return renderTemplate(c.Descriptors.UserTemplate, struct{ PageCount int }{pageCount})
}

// IdentityPrompt renders the supplier/date prompt.
func (c *PromptConfig) IdentityPrompt() (string, error) {
	return renderTemplate(c.Identity.UserTemplate, nil)
}

// AllocationsPrompt renders the prompt listing one instruction per rule.
func (c *PromptConfig) AllocationsPrompt(ruleTexts []string) (string, error) {
	return renderTemplate(c.Allocations.UserTemplate, struct{ Rules []string }{ruleTexts})
}

var templateFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

func newTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("prompt").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := newTemplate(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
