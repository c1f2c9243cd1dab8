package executor

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// decodeOutput interprets CLI stdout. JSON output yields its structured_output
// field when present, else the whole document; anything else is kept as a
// JSON string of the raw text.
func decodeOutput(stdout string) (data json.RawMessage, cost *float64) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, nil
	}
	if !gjson.Valid(trimmed) {
		return rawText(trimmed), nil
	}

	if c := gjson.Get(trimmed, "total_cost_usd"); c.Exists() {
		v := c.Float()
		cost = &v
	}
	if so := gjson.Get(trimmed, "structured_output"); so.Exists() && so.Type != gjson.Null {
		return json.RawMessage(so.Raw), cost
	}
	return json.RawMessage(trimmed), cost
}

// resultData prefers structured output, then the textual result parsed as
// JSON, then the raw text.
func resultData(structured json.RawMessage, text string) json.RawMessage {
	if len(structured) > 0 && string(structured) != "null" {
		return structured
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return rawText(text)
}

func rawText(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
