package llm

import "strings"

// tokensPerWord approximates subword tokenization for English and SQL.
const tokensPerWord = 1.3

// EstimateTokens is a word-count based approximation, used for budget
// signalling only.
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * tokensPerWord)
}
