package ledger

import (
	"math"

	"github.com/modelrelay/modelrelay/internal/settings"
)

// ChatCostDollars computes the upstream dollar cost of a chat call from
// token counts and per-million-token prices.
func ChatCostDollars(inputTokens, outputTokens int, inputPricePerMTok, outputPricePerMTok float64) float64 {
	in := float64(inputTokens) / 1_000_000 * inputPricePerMTok
	out := float64(outputTokens) / 1_000_000 * outputPricePerMTok
	return in + out
}

// ImageCostDollars computes the upstream dollar cost of image generation.
func ImageCostDollars(imageCount int, pricePerImage float64) float64 {
	if imageCount <= 0 || pricePerImage <= 0 {
		return 0
	}
	return float64(imageCount) * pricePerImage
}

// CreditsForDollars converts an upstream dollar cost into credits. Rounding
// is always up so fractional-cent usage is never under-charged.
func CreditsForDollars(costDollars float64) int64 {
	if costDollars <= 0 {
		return 0
	}
	return int64(math.Ceil(costDollars * settings.CreditsPerDollar * settings.ProfitMultiplier))
}

// DollarsToMicros converts a dollar amount into integer micros for audit
// rows.
func DollarsToMicros(costDollars float64) int64 {
	return int64(math.Round(costDollars * 1_000_000))
}
