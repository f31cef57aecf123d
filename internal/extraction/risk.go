package extraction

import (
	"strings"

	"github.com/tshla/previsit-platform/internal/responses"
)

// riskPhrases are scanned against every transcript independently of the
// model's own classification. A hit here can never be suppressed by a clean
// model result.
var riskPhrases = []string{
	"chest pain",
	"chest tightness",
	"pressure in my chest",
	"trouble breathing",
	"can't breathe",
	"cannot breathe",
	"shortness of breath",
	"difficulty breathing",
	"active bleeding",
	"won't stop bleeding",
	"bleeding heavily",
	"coughing up blood",
	"suicidal",
	"suicide",
	"want to die",
	"end my life",
	"kill myself",
	"hurt myself",
	"stroke",
	"face drooping",
	"slurred speech",
	"numb on one side",
	"numbness on one side",
	"severe allergic reaction",
	"throat is closing",
	"anaphylaxis",
	"overdose",
	"unconscious",
	"passed out",
	"seizure",
}

// ScanRisk reports the risk phrases found in the transcript text.
func ScanRisk(transcript string) []string {
	lower := strings.ToLower(transcript)
	var hits []string
	for _, phrase := range riskPhrases {
		if strings.Contains(lower, phrase) {
			hits = append(hits, phrase)
		}
	}
	return hits
}

// BucketUrgency maps the maximum per-concern urgency score onto a level.
func BucketUrgency(maxScore int) responses.UrgencyLevel {
	switch {
	case maxScore >= 9:
		return responses.UrgencyUrgent
	case maxScore >= 7:
		return responses.UrgencyHigh
	case maxScore >= 4:
		return responses.UrgencyModerate
	default:
		return responses.UrgencyRoutine
	}
}

// MaxConcernScore returns the highest urgency score across concerns.
func MaxConcernScore(concerns []responses.Concern) int {
	max := 0
	for _, c := range concerns {
		if c.UrgencyScore > max {
			max = c.UrgencyScore
		}
	}
	return max
}
