package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/ai-invoice-intake/internal/allocation"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

type descriptorPayload struct {
	SupplierName  string      `json:"supplier_name"`
	InvoiceNumber interface{} `json:"invoice_number"`
	StartPage     int         `json:"start_page"`
	EndPage       int         `json:"end_page"`
	TotalAmount   interface{} `json:"total_amount"`
}

// DecodeDescriptors reads {"invoices": [...]} or a bare array of invoices.
// It does not validate page ranges.
func DecodeDescriptors(raw string) ([]entity.InvoiceDescriptor, error) {
	body := StripFence(raw)

	var items []descriptorPayload
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, fmt.Errorf("failed to parse invoice list: %w", err)
		}
	} else {
		var wrapper struct {
			Invoices []descriptorPayload `json:"invoices"`
		}
		if err := json.Unmarshal([]byte(body), &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse invoice list: %w", err)
		}
		items = wrapper.Invoices
	}

	descriptors := make([]entity.InvoiceDescriptor, 0, len(items))
	for _, item := range items {
		descriptors = append(descriptors, entity.InvoiceDescriptor{
			SupplierName:  strings.TrimSpace(item.SupplierName),
			InvoiceNumber: scalarString(item.InvoiceNumber),
			StartPage:     item.StartPage,
			EndPage:       item.EndPage,
			TotalAmount:   scalarString(item.TotalAmount),
		})
	}
	return descriptors, nil
}

// DecodeIdentity reads the supplier name and invoice date from a JSON object
// or a two-element sequence. Anything else is taken as the bare supplier name. An empty name becomes
// entity.UnknownSupplier; a date that is not dd/mm/yyyy becomes today.
func DecodeIdentity(raw string, now time.Time) entity.InvoiceIdentity {
	body := StripFence(raw)

	var payload struct {
		SupplierName string `json:"supplier_name"`
		Date         string `json:"date"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		// ('Supplier', 'dd/mm/yyyy') or ["Supplier", "dd/mm/yyyy"]
		if pair, perr := allocation.ParseResults(body, 2); perr == nil {
			payload.SupplierName, payload.Date = pair[0], pair[1]
		} else {
			payload.SupplierName = body
		}
	}

	return entity.InvoiceIdentity{
		SupplierName: CleanSupplierName(payload.SupplierName),
		Date:         utils.InvoiceDateOrToday(payload.Date, now).Format(utils.InvoiceDateLayout),
	}
}

// CleanSupplierName removes code fences and quotes around an extracted name.
func CleanSupplierName(name string) string {
	name = strings.NewReplacer("```json", "", "```python", "", "```", "", `"`, "", "'", "").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return entity.UnknownSupplier
	}
	return name
}

// StripFence removes a surrounding Markdown code fence.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return fmt.Sprint(t)
	}
}
