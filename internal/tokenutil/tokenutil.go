package tokenutil

import "strings"

// EstimateTokens returns a word-based token estimate.
// Splits on whitespace, multiplies by 1.33 (avg tokens/word for English).
// Uses max(wordEstimate, len/4) as floor for code/non-English.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	words := len(strings.Fields(content))
	wordEstimate := int(float64(words) * 1.33)
	charEstimate := len(content) / 4
	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}

// EstimateBlocks sums the estimates of multiple injection blocks, counting a
// blank-line separator between adjacent non-empty blocks.
func EstimateBlocks(blocks ...string) int {
	total := 0
	joined := 0
	for _, b := range blocks {
		if b == "" {
			continue
		}
		total += EstimateTokens(b)
		joined++
	}
	if joined > 1 {
		total += joined - 1
	}
	return total
}
