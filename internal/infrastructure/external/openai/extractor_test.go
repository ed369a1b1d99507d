package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/testutil"
)

type mockChat struct {
	content  string
	err      error
	requests []openai.ChatCompletionRequest
}

func (m *mockChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: m.content}}},
	}, nil
}

func fakeRender(pages int, gotMax *int) pageRenderer {
	return func(pdfPath string, maxPages int) ([][]byte, error) {
		*gotMax = maxPages
		n := pages
		if maxPages > 0 && n > maxPages {
			n = maxPages
		}
		out := make([][]byte, n)
		for i := range out {
			out[i] = []byte{0x89, 'P', 'N', 'G'}
		}
		return out, nil
	}
}

func TestExtractor_DescriptorsSendEveryPage(t *testing.T) {
	chat := &mockChat{content: `{"invoices":[{"supplier_name":"ACME","invoice_number":"F1","start_page":1,"end_page":5}]}`}
	var gotMax int
	e := newExtractor(chat, fakeRender(5, &gotMax), Config{MaxPages: 2}, nil, zap.NewNop())

	got, err := e.ExtractInvoiceDescriptors(context.Background(), "doc.pdf", 5)
	require.NoError(t, err)
	assert.Equal(t, []entity.InvoiceDescriptor{{SupplierName: "ACME", InvoiceNumber: "F1", StartPage: 1, EndPage: 5}}, got)
	assert.Equal(t, 0, gotMax)

	require.Len(t, chat.requests, 1)
	parts := chat.requests[0].Messages[1].MultiContent
	assert.Len(t, parts, 6)
	assert.Contains(t, parts[0].Text, "pages 1 to 5")
	assert.Contains(t, parts[1].ImageURL.URL, "data:image/png;base64,")
}

func TestExtractor_IdentityBoundsPages(t *testing.T) {
	chat := &mockChat{content: "('ACME Corp', '15/01/2024')"}
	var gotMax int
	e := newExtractor(chat, fakeRender(5, &gotMax), Config{MaxPages: 2}, nil, zap.NewNop())

	got, err := e.ExtractIdentity(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceIdentity{SupplierName: "ACME Corp", Date: "15/01/2024"}, got)
	assert.Equal(t, 2, gotMax)
	assert.Len(t, chat.requests[0].Messages[1].MultiContent, 3)
}

func TestExtractor_Errors(t *testing.T) {
	var gotMax int

	chat := &mockChat{err: errors.New("rate limited")}
	e := newExtractor(chat, fakeRender(1, &gotMax), Config{}, nil, zap.NewNop())
	_, err := e.ExtractAllocations(context.Background(), "doc.pdf", []string{"total"})
	assert.Error(t, err)

	failing := func(string, int) ([][]byte, error) { return nil, errors.New("broken pdf") }
	e = newExtractor(&mockChat{}, failing, Config{}, nil, zap.NewNop())
	_, err = e.ExtractAllocations(context.Background(), "doc.pdf", []string{"total"})
	assert.Error(t, err)

	e = newExtractor(&mockChat{content: "no json here"}, fakeRender(1, &gotMax), Config{}, nil, zap.NewNop())
	_, err = e.ExtractInvoiceDescriptors(context.Background(), "doc.pdf", 1)
	assert.Error(t, err)
}

func TestExtractor_IdentityDateFallback(t *testing.T) {
	var gotMax int
	e := newExtractor(&mockChat{content: `{"supplier_name":"","date":""}`}, fakeRender(1, &gotMax), Config{}, nil, zap.NewNop())
	e.now = func() time.Time { return time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC) }

	got, err := e.ExtractIdentity(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceIdentity{SupplierName: entity.UnknownSupplier, Date: "29/02/2024"}, got)
}

func TestRenderPages(t *testing.T) {
	path := testutil.WritePDF(t, t.TempDir(), "three.pdf", 3)

	images, err := renderPages(path, 2)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, images[0][:4])

	_, err = renderPages(path+".missing", 0)
	assert.Error(t, err)
}
