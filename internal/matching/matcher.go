// Package matching classifies uploaded organization records against the
// stored organizations for the bulk organization-update workflow.
package matching

import (
	"math"
	"sort"
	"strings"

	"github.com/rpattn/certrecon/internal/domain"
)

// MatchType classifies an uploaded record.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchPotential MatchType = "potential"
	MatchNew       MatchType = "new"
)

// Criteria names reported on potential matches.
const (
	CriterionEmail = "email"
	CriterionName  = "name"
	CriterionPhone = "phone"
)

// Scoring weights and thresholds.
const (
	EmailWeight         = 40.0
	NameWeight          = 0.6
	PhoneWeight         = 20.0
	NameSimilarityFloor = 85.0
	PotentialThreshold  = 70.0
	ExactConfidence     = 100.0
)

// MatchResult is the classification of one uploaded record.
type MatchResult struct {
	RowNumber   int                         `json:"row_number"`
	Uploaded    domain.OrganizationFragment `json:"uploaded"`
	Type        MatchType                   `json:"type"`
	Confidence  float64                     `json:"confidence"`
	Candidate   *domain.Organization        `json:"candidate,omitempty"`
	Differences []domain.FieldDifference    `json:"differences"`
	Criteria    []string                    `json:"criteria"`
}

// Match classifies uploaded against candidates. It is pure: the caller
// provides the candidate set. Equal scores go to the lowest identifier.
func Match(uploaded domain.OrganizationFragment, candidates []domain.Organization) MatchResult {
	sorted := append([]domain.Organization(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identifier < sorted[j].Identifier })

	result := MatchResult{
		Uploaded:    uploaded,
		Type:        MatchNew,
		Differences: []domain.FieldDifference{},
		Criteria:    []string{},
	}

	if id := DigitsOnly(uploaded.Identifier); id != "" {
		for i := range sorted {
			if DigitsOnly(sorted[i].Identifier) != id {
				continue
			}
			candidate := sorted[i]
			target := uploaded.Fields()
			target[domain.FieldOrgIdentifier] = candidate.Identifier
			result.Type = MatchExact
			result.Confidence = ExactConfidence
			result.Candidate = &candidate
			result.Differences = domain.DiffFields(candidate.Fields(), target, domain.OrganizationFields, true)
			result.Criteria = []string{domain.FieldOrgIdentifier}
			return result
		}
	}

	bestScore := 0.0
	for i := range sorted {
		score, criteria := Score(uploaded, sorted[i])
		if score < PotentialThreshold || score <= bestScore {
			continue
		}
		candidate := sorted[i]
		bestScore = score
		result.Type = MatchPotential
		result.Confidence = math.Min(round2(score), ExactConfidence)
		result.Candidate = &candidate
		result.Criteria = criteria
	}
	if result.Candidate != nil {
		target := result.Uploaded.Fields()
		target[domain.FieldOrgIdentifier] = ""
		result.Differences = domain.DiffFields(result.Candidate.Fields(), target, domain.OrganizationFields, true)
	}
	return result
}

// Score computes the weighted similarity between an uploaded record and one
// stored organization, along with the criteria that contributed.
func Score(uploaded domain.OrganizationFragment, candidate domain.Organization) (float64, []string) {
	score := 0.0
	criteria := []string{}

	email := strings.TrimSpace(uploaded.Email)
	if email != "" && strings.EqualFold(email, strings.TrimSpace(candidate.Email)) {
		score += EmailWeight
		criteria = append(criteria, CriterionEmail)
	}

	if similarity := NameSimilarity(uploaded.LegalName, candidate.LegalName); similarity >= NameSimilarityFloor {
		score += similarity * NameWeight
		criteria = append(criteria, CriterionName)
	}

	phone := DigitsOnly(uploaded.Phone)
	if phone != "" && phone == DigitsOnly(candidate.Phone) {
		score += PhoneWeight
		criteria = append(criteria, CriterionPhone)
	}

	return score, criteria
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
