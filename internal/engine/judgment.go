package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"labvalidate/internal/types"
)

const judgmentSystemPrompt = `You are a senior validation engineer for radio access network equipment.
You judge whether the output of a validation command satisfies a test condition.

Reply with exactly one JSON object and nothing else:
{"outcome": "PASS" | "FAIL" | "NEEDS_CHECK", "confidence": 0.0-1.0, "rationale": "...", "issues": ["..."], "recommendations": ["..."]}

Use NEEDS_CHECK when the output is ambiguous or borderline and a human should look at it.`

// judgment is a parsed backend verdict.
type judgment struct {
	Outcome         types.Outcome
	Recognized      bool
	RawOutcome      string
	Confidence      float64
	Rationale       string
	Issues          []string
	Recommendations []string
}

// parseJudgment reads the first JSON object in reply. The outcome key (or the
// older "result") is required; a missing confidence defaults to 0.5 and the
// stored value is clamped into [0, 1].
func parseJudgment(reply string) (judgment, bool) {
	m, ok := types.ExtractJSONObject(reply)
	if !ok {
		return judgment{}, false
	}
	return judgmentFromMap(m)
}

func judgmentFromMap(m map[string]interface{}) (judgment, bool) {
	raw, ok := types.FirstOf(m, "outcome", "result", "status")
	if !ok {
		return judgment{}, false
	}

	j := judgment{RawOutcome: types.ExtractString(raw)}
	j.Outcome, j.Recognized = types.ParseOutcome(j.RawOutcome)

	j.Confidence = defaultJudgmentConfidence
	if v, ok := m["confidence"]; ok {
		if f, ok := types.ExtractFloat64(v); ok {
			j.Confidence = types.ClampConfidence(f)
		}
	}

	if v, ok := types.FirstOf(m, "rationale", "analysis", "reason"); ok {
		j.Rationale = strings.TrimSpace(types.ExtractString(v))
	}
	if j.Rationale == "" {
		j.Rationale = "no rationale given"
	}
	j.Issues = types.ExtractStringList(m["issues"])
	j.Recommendations = types.ExtractStringList(m["recommendations"])
	return j, true
}

// judgmentPrompt describes the test item and the simulator payload.
func judgmentPrompt(item types.TestItem, unit types.ExecutionUnit, resp types.SimulatorResponse) string {
	var sb strings.Builder

	sb.WriteString("## Test item\n")
	fmt.Fprintf(&sb, "ID: %s\n", item.ID)
	if item.Block != "" {
		fmt.Fprintf(&sb, "Block: %s\n", item.Block)
	}
	if item.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", item.Category)
	}
	fmt.Fprintf(&sb, "Condition: %s\n", item.ConditionText)
	if item.ExpectedCount > 0 {
		fmt.Fprintf(&sb, "Expected count: %d\n", item.ExpectedCount)
	}

	sb.WriteString("\n## Equipment\n")
	fmt.Fprintf(&sb, "ID: %s\n", unit.EquipmentID)
	if resp.Vendor != "" {
		fmt.Fprintf(&sb, "Vendor: %s\n", resp.Vendor)
	}
	if resp.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", resp.Model)
	}

	sb.WriteString("\n## Command output\n")
	fmt.Fprintf(&sb, "Command: %s\n", resp.Command)
	payload, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", resp.Data))
	}
	sb.WriteString("```json\n")
	sb.Write(payload)
	sb.WriteString("\n```\n")

	sb.WriteString("\nJudge whether this output satisfies the condition.")
	return sb.String()
}

// simulatorRationale turns an equipment error into a readable rationale.
func simulatorRationale(resp types.SimulatorResponse) string {
	var sb strings.Builder
	sb.WriteString("Equipment reported an error")
	if resp.ErrorCode != "" {
		fmt.Fprintf(&sb, " [%s]", resp.ErrorCode)
	}
	if resp.ErrorMessage != "" {
		fmt.Fprintf(&sb, ": %s", resp.ErrorMessage)
	}
	if resp.ErrorDetails != "" {
		fmt.Fprintf(&sb, " (%s)", resp.ErrorDetails)
	}
	if resp.RetryPossible {
		sb.WriteString("; retry possible")
	}
	return sb.String()
}
