package gemini

import "time"

// Config holds configuration for the Gemini client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// Built-in tools
	EnableGoogleSearch bool
	EnableURLContext   bool
}

// Content represents content in a request or response.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one unit of content. A single part may carry more than one of
// text, executable code, and an execution result at the same time.
type Part struct {
	Text                string               `json:"text,omitempty"`
	ExecutableCode      *ExecutableCode      `json:"executableCode,omitempty"`
	CodeExecutionResult *CodeExecutionResult `json:"codeExecutionResult,omitempty"`
}

// ExecutableCode is code the model generated for its sandbox to run.
type ExecutableCode struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// CodeExecutionResult is the sandbox's output for one code block. Outcome is
// a status tag such as OUTCOME_OK or OUTCOME_FAILED.
type CodeExecutionResult struct {
	Outcome string `json:"outcome,omitempty"`
	Output  string `json:"output,omitempty"`
}

// Tool declares a built-in tool for the request.
type Tool struct {
	CodeExecution *CodeExecution `json:"codeExecution,omitempty"`
	GoogleSearch  *GoogleSearch  `json:"googleSearch,omitempty"`
	URLContext    *URLContext    `json:"urlContext,omitempty"`
}

// CodeExecution enables the Python code-execution sandbox.
type CodeExecution struct{}

// GoogleSearch enables search grounding.
type GoogleSearch struct{}

// URLContext enables URL context fetching.
type URLContext struct{}

// GenerationConfig represents generation parameters.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// GenerateRequest is the streamGenerateContent request body.
type GenerateRequest struct {
	Contents          []Content        `json:"contents"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	GenerationConfig  GenerationConfig `json:"generationConfig,omitempty"`
	Tools             []Tool           `json:"tools,omitempty"`
}

// Candidate is one response candidate. This service only ever reads the
// first.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// GenerateChunk is one unit of the streaming response. A chunk may carry no
// usable content at all; that is an empty tick, not an error.
type GenerateChunk struct {
	Candidates []Candidate `json:"candidates"`
	Error      *APIError   `json:"error,omitempty"`
}

// APIError is the error envelope the API embeds in a chunk.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Parts returns the first candidate's parts, or nil when the chunk carries
// no usable content.
func (c *GenerateChunk) Parts() []Part {
	if len(c.Candidates) == 0 {
		return nil
	}
	return c.Candidates[0].Content.Parts
}
