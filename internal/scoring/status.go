package scoring

import (
	"strings"

	"rescuefusion/internal/model"
)

// PostureFromLabel folds a free-form pose label onto the four canonical postures.
// Unknown or empty labels are treated as standing.
func PostureFromLabel(label string) model.Posture {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "falling", "fall", "fallen", "lying":
		return model.PostureFalling
	case "crawling":
		return model.PostureCrawling
	case "sitting":
		return model.PostureSitting
	default:
		return model.PostureStanding
	}
}

// PostureScore ranks immobility: the less a person can move, the higher the score.
func PostureScore(p model.Posture) float64 {
	switch p {
	case model.PostureFalling:
		return 10.0
	case model.PostureCrawling:
		return 8.0
	case model.PostureSitting:
		return 5.0
	default:
		return 3.0
	}
}

func StatusScore(label string) float64 {
	return PostureScore(PostureFromLabel(label))
}
