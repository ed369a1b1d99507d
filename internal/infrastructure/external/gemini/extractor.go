// Package gemini implements port.Extractor on the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/external/extraction"
)

const (
	pdfMIMEType      = "application/pdf"
	jsonMIMEType     = "application/json"
	defaultPollDelay = time.Second
)

// fileAPI is the part of *genai.Client used to manage uploaded documents.
type fileAPI interface {
	UploadFile(ctx context.Context, name string, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error)
	GetFile(ctx context.Context, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
}

// generateFunc runs one generation against an uploaded file and returns the response text.
type generateFunc func(ctx context.Context, call callConfig, file *genai.File, prompt string) (string, error)

type callConfig struct {
	prompt extraction.Prompt
	schema *genai.Schema
}

// Config holds Gemini configuration
type Config struct {
	APIKey    string
	Model     string
	PollDelay time.Duration
}

// Extractor implements port.Extractor using Gemini file uploads
type Extractor struct {
	client    *genai.Client
	files     fileAPI
	generate  generateFunc
	model     string
	prompts   *extraction.PromptConfig
	pollDelay time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewExtractor creates a Gemini extractor
func NewExtractor(ctx context.Context, cfg Config, prompts *extraction.PromptConfig, logger *zap.Logger) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	e := newExtractor(client, nil, cfg, prompts, logger)
	e.client = client
	e.generate = e.generateWithModel
	return e, nil
}

func newExtractor(files fileAPI, generate generateFunc, cfg Config, prompts *extraction.PromptConfig, logger *zap.Logger) *Extractor {
	if prompts == nil {
		prompts = extraction.DefaultPrompts()
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = defaultPollDelay
	}
	return &Extractor{
		files:     files,
		generate:  generate,
		model:     cfg.Model,
		prompts:   prompts,
		pollDelay: cfg.PollDelay,
		now:       time.Now,
		logger:    logger,
	}
}

// Close releases the underlying client
func (e *Extractor) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// ExtractInvoiceDescriptors asks for every invoice contained in the document
func (e *Extractor) ExtractInvoiceDescriptors(ctx context.Context, pdfPath string, pageCount int) ([]entity.InvoiceDescriptor, error) {
	prompt, err := e.prompts.DescriptorsPrompt(pageCount)
	if err != nil {
		return nil, err
	}

	text, err := e.withUploadedFile(ctx, pdfPath, func(file *genai.File) (string, error) {
		return e.generate(ctx, callConfig{prompt: e.prompts.Descriptors, schema: descriptorListSchema}, file, prompt)
	})
	if err != nil {
		return nil, err
	}

	descriptors, err := extraction.DecodeDescriptors(text)
	if err != nil {
		e.logger.Error("Failed to parse invoice list", zap.String("path", pdfPath), zap.String("content", text), zap.Error(err))
		return nil, err
	}

	e.logger.Info("Invoice descriptors extracted",
		zap.String("path", pdfPath),
		zap.Int("page_count", pageCount),
		zap.Int("invoices", len(descriptors)))
	return descriptors, nil
}

// ExtractIdentity reads the supplier name and invoice date
func (e *Extractor) ExtractIdentity(ctx context.Context, pdfPath string) (entity.InvoiceIdentity, error) {
	prompt, err := e.prompts.IdentityPrompt()
	if err != nil {
		return entity.InvoiceIdentity{}, err
	}

	text, err := e.withUploadedFile(ctx, pdfPath, func(file *genai.File) (string, error) {
		return e.generate(ctx, callConfig{prompt: e.prompts.Identity, schema: identitySchema}, file, prompt)
	})
	if err != nil {
		return entity.InvoiceIdentity{}, err
	}

	identity := extraction.DecodeIdentity(text, e.now())
	e.logger.Info("Invoice identity extracted",
		zap.String("path", pdfPath),
		zap.String("supplier", identity.SupplierName),
		zap.String("date", identity.Date))
	return identity, nil
}

// ExtractAllocations returns the raw response for the rule instructions
func (e *Extractor) ExtractAllocations(ctx context.Context, pdfPath string, ruleTexts []string) (string, error) {
	prompt, err := e.prompts.AllocationsPrompt(ruleTexts)
	if err != nil {
		return "", err
	}

	text, err := e.withUploadedFile(ctx, pdfPath, func(file *genai.File) (string, error) {
		return e.generate(ctx, callConfig{prompt: e.prompts.Allocations, schema: allocationSchema}, file, prompt)
	})
	if err != nil {
		return "", err
	}

	e.logger.Debug("Allocation response received", zap.String("path", pdfPath), zap.Int("content_length", len(text)))
	return text, nil
}

// withUploadedFile uploads pdfPath, waits until the file is active and runs fn.
// The uploaded file is deleted on every path.
func (e *Extractor) withUploadedFile(ctx context.Context, pdfPath string, fn func(*genai.File) (string, error)) (string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	file, err := e.files.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		MIMEType:    pdfMIMEType,
		DisplayName: filepath.Base(pdfPath),
	})
	if err != nil {
		e.logger.Error("Gemini upload failed", zap.String("path", pdfPath), zap.Error(err))
		return "", fmt.Errorf("gemini upload failed: %w", err)
	}
	name := file.Name
	defer func() {
		// The caller's context may already be done.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := e.files.DeleteFile(cleanupCtx, name); err != nil {
			e.logger.Warn("Failed to delete uploaded file", zap.String("file", name), zap.Error(err))
		}
	}()

	active, err := e.waitActive(ctx, file)
	if err != nil {
		return "", err
	}

	return fn(active)
}

func (e *Extractor) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	for file.State != genai.FileStateActive {
		if file.State != genai.FileStateProcessing {
			return nil, fmt.Errorf("gemini file %s processing failed: state %s", file.Name, file.State)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollDelay):
		}

		next, err := e.files.GetFile(ctx, file.Name)
		if err != nil {
			return nil, fmt.Errorf("gemini get file: %w", err)
		}
		name := file.Name
		file = next
		if file.Name == "" {
			file.Name = name
		}
	}
	return file, nil
}

func (e *Extractor) generateWithModel(ctx context.Context, call callConfig, file *genai.File, prompt string) (string, error) {
	model := e.client.GenerativeModel(e.model)
	if call.prompt.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(call.prompt.System)},
		}
	}
	model.SetTemperature(call.prompt.Temperature)
	if call.prompt.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(call.prompt.MaxTokens))
	}
	model.ResponseMIMEType = jsonMIMEType
	model.ResponseSchema = call.schema

	resp, err := model.GenerateContent(ctx,
		genai.FileData{MIMEType: file.MIMEType, URI: file.URI},
		genai.Text(prompt),
	)
	if err != nil {
		e.logger.Error("Gemini generate content failed", zap.String("model", e.model), zap.Error(err))
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	return sb.String(), nil
}

// Verify interface compliance
var _ port.Extractor = (*Extractor)(nil)
