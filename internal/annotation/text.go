package annotation

import (
	"fmt"
	"strings"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// RedText is the identity and allocation part of the stamp:
// the upper-cased supplier followed by one " - account : value" line per allocation.
// Allocations with an empty value are left out.
func RedText(supplier string, allocations []entity.AllocationLine) string {
	lines := []string{" " + strings.ToUpper(strings.TrimSpace(supplier))}
	for _, a := range allocations {
		if strings.TrimSpace(a.Value) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf(" - %s : %s", a.Account, a.Value))
	}
	return strings.Join(lines, "\n")
}

// BlackText is the payment line of the stamp.
func BlackText(method entity.PaymentMethod, detail string) string {
	return method.Line(strings.TrimSpace(detail))
}
