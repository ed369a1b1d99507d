// Package openai implements port.Extractor with the OpenAI vision chat API.
// Pages are rendered to images locally and sent inline.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/external/extraction"
)

// chatAPI is the part of *openai.Client the extractor uses.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds OpenAI configuration
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// MaxPages bounds identity and allocation calls. Descriptor detection always sends every page.
	MaxPages int
}

// Extractor implements port.Extractor using GPT vision
type Extractor struct {
	client   chatAPI
	render   pageRenderer
	model    string
	maxPages int
	prompts  *extraction.PromptConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewExtractor creates an OpenAI extractor
func NewExtractor(cfg Config, prompts *extraction.PromptConfig, logger *zap.Logger) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newExtractor(openai.NewClientWithConfig(clientCfg), renderPages, cfg, prompts, logger), nil
}

func newExtractor(client chatAPI, render pageRenderer, cfg Config, prompts *extraction.PromptConfig, logger *zap.Logger) *Extractor {
	if prompts == nil {
		prompts = extraction.DefaultPrompts()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 2
	}
	return &Extractor{
		client:   client,
		render:   render,
		model:    cfg.Model,
		maxPages: cfg.MaxPages,
		prompts:  prompts,
		now:      time.Now,
		logger:   logger,
	}
}

// ExtractInvoiceDescriptors asks for every invoice contained in the document
func (e *Extractor) ExtractInvoiceDescriptors(ctx context.Context, pdfPath string, pageCount int) ([]entity.InvoiceDescriptor, error) {
	prompt, err := e.prompts.DescriptorsPrompt(pageCount)
	if err != nil {
		return nil, err
	}

	content, err := e.complete(ctx, pdfPath, 0, e.prompts.Descriptors, prompt)
	if err != nil {
		return nil, err
	}

	descriptors, err := extraction.DecodeDescriptors(content)
	if err != nil {
		e.logger.Error("Failed to parse invoice list", zap.String("content", content), zap.Error(err))
		return nil, err
	}
	return descriptors, nil
}

// ExtractIdentity reads the supplier name and invoice date
func (e *Extractor) ExtractIdentity(ctx context.Context, pdfPath string) (entity.InvoiceIdentity, error) {
	prompt, err := e.prompts.IdentityPrompt()
	if err != nil {
		return entity.InvoiceIdentity{}, err
	}

	content, err := e.complete(ctx, pdfPath, e.maxPages, e.prompts.Identity, prompt)
	if err != nil {
		return entity.InvoiceIdentity{}, err
	}
	return extraction.DecodeIdentity(content, e.now()), nil
}

// ExtractAllocations returns the raw response for the rule instructions
func (e *Extractor) ExtractAllocations(ctx context.Context, pdfPath string, ruleTexts []string) (string, error) {
	prompt, err := e.prompts.AllocationsPrompt(ruleTexts)
	if err != nil {
		return "", err
	}
	return e.complete(ctx, pdfPath, e.maxPages, e.prompts.Allocations, prompt)
}

func (e *Extractor) complete(ctx context.Context, pdfPath string, maxPages int, p extraction.Prompt, prompt string) (string, error) {
	images, err := e.render(pdfPath, maxPages)
	if err != nil {
		e.logger.Error("Failed to render PDF pages", zap.String("path", pdfPath), zap.Error(err))
		return "", fmt.Errorf("failed to convert PDF: %w", err)
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		e.logger.Error("Vision API call failed", zap.String("path", pdfPath), zap.Error(err))
		return "", fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from vision API")
	}

	content := resp.Choices[0].Message.Content
	e.logger.Debug("Vision API response received",
		zap.String("path", pdfPath),
		zap.Int("image_count", len(images)),
		zap.Int("content_length", len(content)))
	return content, nil
}

// Verify interface compliance
var _ port.Extractor = (*Extractor)(nil)
