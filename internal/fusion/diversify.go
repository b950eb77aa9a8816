package fusion

// Meta carries the per-item attributes Diversify penalizes repetition of.
// Populated by the caller (Tool Server) from the underlying Document.
type Meta struct {
	PatientID    string
	DocumentType string
}

// Diversify re-ranks a fused list to penalize repeated patient_id/
// document_type dominance, grounded on the teacher's
// internal/rag/retrieve.Diversify multiplicative-penalty greedy selection.
// This is additive to the required RRF ordering: callers that never set
// diversify=true see RRF's exact output, unmodified.
func Diversify(fused []Fused, meta map[string]Meta, k int) []Fused {
	if k <= 0 || len(fused) == 0 {
		return fused
	}
	const lambdaPatient = 0.75
	const lambdaType = 0.25

	patientCount := map[string]int{}
	typeCount := map[string]int{}
	used := make([]bool, len(fused))
	selected := make([]Fused, 0, k)

	for len(selected) < k && len(selected) < len(fused) {
		best := -1
		bestAdj := -1.0
		for i, f := range fused {
			if used[i] {
				continue
			}
			m := meta[f.ID]
			denom := 1.0 + lambdaPatient*float64(patientCount[m.PatientID]) + lambdaType*float64(typeCount[m.DocumentType])
			adj := f.Score / denom
			if best == -1 || adj > bestAdj || (adj == bestAdj && f.ID < fused[best].ID) {
				bestAdj = adj
				best = i
			}
		}
		if best == -1 {
			break
		}
		pick := fused[best]
		selected = append(selected, pick)
		used[best] = true
		m := meta[pick.ID]
		patientCount[m.PatientID]++
		typeCount[m.DocumentType]++
	}
	return selected
}
