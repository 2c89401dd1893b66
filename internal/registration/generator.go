package registration

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"confirmgate/pkg/requestcontext"
)

// Generator produces a candidate registration number. Uniqueness is enforced
// by the store, not the generator.
type Generator interface {
	Generate(ctx context.Context, eventID, trackingID string) (string, error)
}

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomGenerator yields fixed-length uppercase alphanumeric numbers.
type RandomGenerator struct {
	Length int
}

func (g RandomGenerator) Generate(context.Context, string, string) (string, error) {
	n := g.Length
	if n <= 0 {
		n = 12
	}
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for range n {
		i, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate registration number: %w", err)
		}
		b.WriteByte(alphabet[i.Int64()])
	}
	return b.String(), nil
}

// TrackingGenerator prefixes the event's tracking id with the year of issue.
type TrackingGenerator struct{}

func (TrackingGenerator) Generate(ctx context.Context, _ string, trackingID string) (string, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return "", fmt.Errorf("tracking id is required for tracking registration numbers")
	}
	return fmt.Sprintf("%d%s", requestcontext.Now(ctx).Year(), strings.ToUpper(trackingID)), nil
}

// NewGenerator returns the generator for a configured format name.
func NewGenerator(format string, length int) (Generator, error) {
	switch format {
	case "", "random":
		return RandomGenerator{Length: length}, nil
	case "tracking":
		return TrackingGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown registration number format %q", format)
	}
}
