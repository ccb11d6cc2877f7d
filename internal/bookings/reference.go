package bookings

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// ticketAlphabet skips I and O so refs survive being read aloud at a gate
const ticketAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateTicketRef builds a boarding reference like TRP-20260301-K7QX2M
func generateTicketRef(prefix string, now time.Time) (string, error) {
	randomPart := make([]byte, 6)
	for i := range randomPart {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(ticketAlphabet))))
		if err != nil {
			return "", err
		}
		randomPart[i] = ticketAlphabet[num.Int64()]
	}

	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), string(randomPart)), nil
}
