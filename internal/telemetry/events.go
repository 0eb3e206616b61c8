package telemetry

import "strconv"

// CycleTags returns standard tags for a monitoring cycle span.
func CycleTags(sessionID string, cycle int) map[string]string {
	return map[string]string{
		"session_id": sessionID,
		"cycle":      strconv.Itoa(cycle),
	}
}

// CollectTags returns standard tags for a collection span.
func CollectTags(collector string) map[string]string {
	return map[string]string{
		"collector": collector,
	}
}

// SendTags returns standard tags for a model call span.
func SendTags(inputTokens, outputTokens int) map[string]string {
	return map[string]string{
		"input_tokens":  strconv.Itoa(inputTokens),
		"output_tokens": strconv.Itoa(outputTokens),
	}
}

// RuleTags returns standard tags for a rule evaluation span.
func RuleTags(rule string, fired bool) map[string]string {
	return map[string]string{
		"rule":  rule,
		"fired": strconv.FormatBool(fired),
	}
}
