// Package extract implements the Entity Extractor (C3): a fixed set of
// lexical/regex patterns that turn decoded clinical note text into
// candidate entities and CO_OCCURS_WITH edges, grounded on the pattern-table
// style of the teacher pack's internal/search/patterns.go.
package extract

import (
	"regexp"

	"medgraphrag/internal/store"
)

// pattern pairs a compiled regex with the entity type and base confidence
// it contributes. Compiled once at package init, same as the teacher.
type pattern struct {
	re         *regexp.Regexp
	entityType store.EntityType
	confidence float64
}

var patterns = []pattern{
	// Symptoms
	{regexp.MustCompile(`(?i)\b(cough(?:ing)?|fever|chills|fatigue|nausea|vomiting|diarrhea|shortness of breath|dyspnea|chest pain|headache|dizziness|rash|swelling|numbness|tingling|weakness|malaise)\b`), store.Symptom, 0.8},

	// Conditions
	{regexp.MustCompile(`(?i)\b(hypertension|diabetes(?: mellitus)?|asthma|copd|pneumonia|influenza|covid-?19|migraine|anemia|arthritis|depression|anxiety|obesity|hyperlipidemia|bronchitis|sinusitis|gastroenteritis)\b`), store.Condition, 0.85},

	// Medications (generic names and common suffix families)
	{regexp.MustCompile(`(?i)\b(ibuprofen|acetaminophen|aspirin|amoxicillin|azithromycin|metformin|lisinopril|atorvastatin|albuterol|prednisone|omeprazole|[a-z]+(?:cillin|mycin|statin|pril|olol|azole))\b`), store.Medication, 0.75},

	// Procedures
	{regexp.MustCompile(`(?i)\b(x-?ray|ct scan|mri|ultrasound|biopsy|colonoscopy|endoscopy|electrocardiogram|ekg|ecg|blood test|echocardiogram|angiography|surgery|vaccination)\b`), store.Procedure, 0.8},

	// Body parts
	{regexp.MustCompile(`(?i)\b(chest|abdomen|head|neck|back|lung[s]?|heart|liver|kidney[s]?|stomach|throat|knee|shoulder|ankle|wrist|spine)\b`), store.BodyPart, 0.7},

	// Temporal expressions
	{regexp.MustCompile(`(?i)\b(today|yesterday|this morning|last night|\d+ (?:day|week|month|year)s? ago|since \w+|for the past \d+ (?:day|week|month)s?)\b`), store.Temporal, 0.75},
}
