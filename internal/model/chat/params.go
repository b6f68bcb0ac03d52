package chat

// SamplingParams carries model sampling knobs alongside an assembled
// prompt. Nil fields mean "use the backend default". Values originate
// from the role definition unless the caller overrides them per turn.
type SamplingParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"topP,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// Merge returns a copy of p with any non-nil fields of override applied.
func (p SamplingParams) Merge(override SamplingParams) SamplingParams {
	out := p
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.MaxTokens != nil {
		out.MaxTokens = override.MaxTokens
	}
	return out
}
