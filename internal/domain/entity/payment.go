package entity

import (
	"fmt"
	"strings"
)

// PaymentMethod is the payment line printed in black under the allocation block.
type PaymentMethod string

const (
	PaymentBAP         PaymentMethod = "BAP"
	PaymentPrelevement PaymentMethod = "PRELEVEMENT"
	PaymentCB          PaymentMethod = "CB"
	PaymentCheque      PaymentMethod = "CHEQUE"
	PaymentComment     PaymentMethod = "COMMENT"
)

var validPaymentMethods = map[PaymentMethod]bool{
	PaymentBAP:         true,
	PaymentPrelevement: true,
	PaymentCB:          true,
	PaymentCheque:      true,
	PaymentComment:     true,
}

// IsValid reports whether the method is known.
func (p PaymentMethod) IsValid() bool {
	return validPaymentMethods[p]
}

// ParsePaymentMethod is case-insensitive and accepts the accented labels.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	switch key {
	case "PRÉLÈVEMENT", "PRÉLEVEMENT":
		key = string(PaymentPrelevement)
	case "CHÈQUE":
		key = string(PaymentCheque)
	}
	p := PaymentMethod(key)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown payment method %q", s)
	}
	return p, nil
}

// Line renders the black annotation line for the method.
// detail is the cheque number or the free comment.
func (p PaymentMethod) Line(detail string) string {
	switch p {
	case PaymentBAP:
		return " -> BAP"
	case PaymentPrelevement:
		return " -> Prélèvement"
	case PaymentCB:
		return " -> CB"
	case PaymentCheque:
		return fmt.Sprintf(" -> Chèque n° : %s", detail)
	case PaymentComment:
		return fmt.Sprintf(" -> %s", detail)
	}
	return ""
}
