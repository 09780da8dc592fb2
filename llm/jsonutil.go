package llm

import "strings"

// ExtractJSONObject returns the slice of content from the first '{' to the
// last '}', inclusive. It reports false when either brace is missing.
//
// This is a best-effort heuristic for models that wrap JSON in prose or code
// fences. It does not check that the slice is valid JSON and does not repair
// it: a '}' that precedes the first '{' yields an empty slice, and trailing
// commas or comments are left for the decoder to reject.
func ExtractJSONObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 {
		return "", false
	}
	if end < start {
		return "", true
	}
	return content[start : end+1], true
}
