package scratchcard

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// pinAlphabet has 32 symbols so a random byte maps onto it without bias.
// 0/O and 1/I are left out so printed cards read unambiguously.
const pinAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	pinGroups    = 3
	pinGroupSize = 4
)

// generatePin returns a PIN such as "K7QM-2XPA-9HTR".
func generatePin() (string, error) {
	buf := make([]byte, pinGroups*pinGroupSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	var b strings.Builder
	for i, v := range buf {
		if i > 0 && i%pinGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(pinAlphabet[int(v)%len(pinAlphabet)])
	}
	return b.String(), nil
}

// batchSerial formats the serial of the seq-th card of a batch:
// PREFIX-BATCHTAG-0001.
func batchSerial(prefix string, batchID uuid.UUID, seq int) string {
	tag := strings.ToUpper(strings.ReplaceAll(batchID.String(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%04d", prefix, tag, seq)
}

func singleSerial(prefix string, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:10]))
}

func normalizePrefix(prefix string) (string, bool) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return defaultSerialPrefix, true
	}
	for _, r := range prefix {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", false
		}
	}
	return prefix, true
}
