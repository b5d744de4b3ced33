package models

// TallyResult is derived on demand and never stored.
type TallyResult struct {
	CandidateID string  `json:"candidate_id"`
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
}
