package judge

import "strings"

// symptomKeywords are the terms the fallback summarizer scans for when
// the reasoning service is unavailable.
var symptomKeywords = []string{
	"pain", "ache", "fever", "headache", "chest", "shortness", "breath",
	"dizzy", "nausea", "vomiting", "rash", "swelling", "cough",
}

const (
	maxFallbackKeywords = 5
	maxFallbackChars    = 100
)

// fallbackSummary extracts known symptom keywords from the transcript,
// or truncates it when none match. Deterministic so that degraded-mode
// cases remain reproducible.
func fallbackSummary(transcript string) string {
	lower := strings.ToLower(transcript)

	var found []string
	for _, kw := range symptomKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
			if len(found) == maxFallbackKeywords {
				break
			}
		}
	}
	if len(found) > 0 {
		return "Patient reports: " + strings.Join(found, ", ")
	}

	trimmed := strings.TrimSpace(transcript)
	if len(trimmed) > maxFallbackChars {
		return trimmed[:maxFallbackChars]
	}
	return trimmed
}
