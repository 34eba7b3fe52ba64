package generation

import (
	"fmt"
	"strings"

	"llm_fanout/models"
)

// LengthPolicy selects the length instruction and token budget of a request.
type LengthPolicy string

const (
	LengthBrief    LengthPolicy = "brief"
	LengthShort    LengthPolicy = "short"
	LengthMedium   LengthPolicy = "medium"
	LengthLong     LengthPolicy = "long"
	LengthDetailed LengthPolicy = "detailed"
	LengthCustom   LengthPolicy = "custom"
)

// DefaultCustomLength is the line count used when a custom length has no hint.
const DefaultCustomLength = "10"

const (
	defaultTemperature = 0.7
	defaultTopP        = 0.9
)

// StopSequences end generation at a blank-line run, a new question, or a rule.
var StopSequences = []string{"\n\n\n", "Question:", "---"}

var tokenBudgets = map[LengthPolicy]int{
	LengthBrief:    100,
	LengthShort:    200,
	LengthMedium:   500,
	LengthLong:     800,
	LengthDetailed: 1200,
	LengthCustom:   600,
}

var instructions = map[LengthPolicy]string{
	LengthBrief:    "Please provide a brief response in 1-2 sentences only.",
	LengthShort:    "Please provide a short response in 3-5 sentences.",
	LengthMedium:   "Please provide a medium-length response in 1-2 paragraphs.",
	LengthLong:     "Please provide a detailed response in 3-4 paragraphs.",
	LengthDetailed: "Please provide a comprehensive and detailed response in 5 or more paragraphs.",
}

// ParseLength maps the wire value to a policy. Unknown and empty values are medium.
func ParseLength(s string) LengthPolicy {
	p := LengthPolicy(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tokenBudgets[p]; ok {
		return p
	}
	return LengthMedium
}

// TokenBudget is the num_predict sent for the policy.
func (p LengthPolicy) TokenBudget() int {
	if n, ok := tokenBudgets[p]; ok {
		return n
	}
	return tokenBudgets[LengthMedium]
}

// Instruction is the length instruction prepended to the question.
// customLength only affects the custom policy.
func (p LengthPolicy) Instruction(customLength string) string {
	if p == LengthCustom {
		if strings.TrimSpace(customLength) == "" {
			customLength = DefaultCustomLength
		}
		return fmt.Sprintf("Please provide a response that is approximately %s lines long.", strings.TrimSpace(customLength))
	}
	if s, ok := instructions[p]; ok {
		return s
	}
	return instructions[LengthMedium]
}

// Request is one question as sent to every model of a run.
type Request struct {
	Question     string
	Length       LengthPolicy
	CustomLength string
	SessionID    string
}

// NewRequest validates the wire fields and applies defaults.
func NewRequest(question, length, customLength, sessionID string) Request {
	if strings.TrimSpace(customLength) == "" {
		customLength = DefaultCustomLength
	}
	return Request{
		Question:     strings.TrimSpace(question),
		Length:       ParseLength(length),
		CustomLength: customLength,
		SessionID:    sessionID,
	}
}

// Prompt builds the enriched prompt sent to the models.
func (r Request) Prompt() string {
	return fmt.Sprintf("%s\n\nQuestion: %s\n\nPlease answer the question above following the length requirement specified.",
		r.Length.Instruction(r.CustomLength), r.Question)
}

// Options returns the decoding parameters for the request's policy.
func (r Request) Options() *models.GenerateOptions {
	return &models.GenerateOptions{
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		NumPredict:  r.Length.TokenBudget(),
		Stop:        append([]string(nil), StopSequences...),
	}
}
