package gemini

import "github.com/google/generative-ai-go/genai"

var descriptorSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"supplier_name":  {Type: genai.TypeString, Description: "Name of the company that issued the invoice."},
		"invoice_number": {Type: genai.TypeString, Description: "Unique invoice number."},
		"start_page":     {Type: genai.TypeInteger, Description: "First page of the invoice, 1-based."},
		"end_page":       {Type: genai.TypeInteger, Description: "Last page of the invoice, 1-based."},
		"total_amount":   {Type: genai.TypeString, Description: "Total amount including currency."},
	},
	Required: []string{"supplier_name", "invoice_number", "start_page", "end_page"},
}

var descriptorListSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"invoices": {
			Type:        genai.TypeArray,
			Items:       descriptorSchema,
			Description: "Every invoice found in the document.",
		},
	},
	Required: []string{"invoices"},
}

var identitySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"supplier_name": {Type: genai.TypeString},
		"date":          {Type: genai.TypeString, Description: "Invoice date as DD/MM/YYYY."},
	},
	Required: []string{"supplier_name", "date"},
}

var allocationSchema = &genai.Schema{
	Type:  genai.TypeArray,
	Items: &genai.Schema{Type: genai.TypeString},
}
