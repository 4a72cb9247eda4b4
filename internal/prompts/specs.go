package prompts

const scoreSpec = `Respond with a JSON object matching this exact structure:

{
  "score": 0.0,
  "rationale": "<explanation>"
}

Field constraints:
- score: Number between 0 and 1. 1 means the posting matches every
  criterion in the profile, 0 means it matches none or is disqualified
  by an excluded keyword.
- rationale: One or two sentences naming the criteria that drove the score.

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing
- Score only the posting provided in the prompt`

const tailorSpec = `Respond with a JSON object matching this exact structure:

{
  "content": "<tailored resume>",
  "changes": ["<change1>", "<change2>"],
  "rationale": "<explanation>"
}

Field constraints:
- content: The complete tailored resume as plain text or markdown.
- changes: Each material edit made to the base resume, one per entry.
- rationale: How the tailored resume addresses the posting's requirements.

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing
- The content field must be the full resume, not a diff
- Never introduce facts absent from the base resume`

var specs = map[Stage]string{
	StageScore:  scoreSpec,
	StageTailor: tailorSpec,
}

// Spec returns the hardcoded specification for a prompt stage.
// Specifications define the expected output format and behavioral constraints.
// Returns ErrInvalidStage if the stage is not recognized.
func Spec(stage Stage) (string, error) {
	text, ok := specs[stage]
	if !ok {
		return "", ErrInvalidStage
	}
	return text, nil
}
