// Package allocation computes per-account amounts for an invoice from the
// supplier's allocation rules.
package allocation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// Extractor is the part of the document-understanding service the resolver needs.
type Extractor interface {
	ExtractAllocations(ctx context.Context, pdfPath string, ruleTexts []string) (string, error)
}

// Resolver asks the extractor for one value per rule and parses the answer strictly.
type Resolver struct {
	extractor Extractor
	timeout   time.Duration
	logger    *zap.Logger
}

// NewResolver creates a resolver. A zero timeout leaves the caller's deadline in charge.
func NewResolver(extractor Extractor, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{extractor: extractor, timeout: timeout, logger: logger}
}

// Compute returns one value per rule, in rule order. Every rule must carry an
// instruction. An empty rule list returns immediately without calling the extractor.
// Failures of any kind wrap ErrExtractionFailed; there is no retry.
func (r *Resolver) Compute(ctx context.Context, pdfPath string, rules []entity.AllocationRule) ([]string, error) {
	if len(rules) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(rules))
	for i, rule := range rules {
		if !rule.NeedsExtraction() {
			return nil, fmt.Errorf("rule for account %s has no instruction", rule.Account)
		}
		texts[i] = rule.RuleText
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := r.extractor.ExtractAllocations(ctx, pdfPath, texts)
	if err != nil {
		r.logger.Error("Allocation extraction failed",
			zap.String("path", pdfPath),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	values, err := ParseResults(raw, len(rules))
	if err != nil {
		r.logger.Error("Allocation response rejected",
			zap.String("path", pdfPath),
			zap.String("response", truncate(raw, 200)),
			zap.Error(err))
		return nil, err
	}

	r.logger.Info("Allocations computed",
		zap.String("path", pdfPath),
		zap.Int("rules", len(rules)),
		zap.Duration("elapsed", time.Since(start)))
	return values, nil
}

// Resolve takes a supplier's full rule set. Rules with an instruction are
// computed; fixed accounts are returned with an empty value for a human to fill.
func (r *Resolver) Resolve(ctx context.Context, pdfPath string, rules []entity.AllocationRule) ([]entity.AllocationLine, error) {
	values, err := r.Compute(ctx, pdfPath, entity.ExtractionRules(rules))
	if err != nil {
		return nil, err
	}

	lines := make([]entity.AllocationLine, 0, len(rules))
	next := 0
	for _, rule := range rules {
		line := entity.AllocationLine{Account: rule.Account}
		if rule.NeedsExtraction() {
			line.Value = values[next]
			next++
		}
		lines = append(lines, line)
	}
	return lines, nil
}
