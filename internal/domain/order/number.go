package order

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const numberLayout = "20060102150405"

// Number builds an order number from the placement time and user ID. A
// non-empty suffix is appended to resolve collisions.
func Number(at time.Time, userID, suffix string) string {
	var b strings.Builder
	b.WriteString("ORD")
	b.WriteString(at.UTC().Format(numberLayout))
	b.WriteString(userID)
	if suffix != "" {
		b.WriteByte('-')
		b.WriteString(suffix)
	}
	return b.String()
}

func randomSuffix() string {
	u := uuid.New()
	return strings.ToUpper(hex.EncodeToString(u[:3]))
}
