package engine

import (
	"regexp"
	"strings"

	"github.com/clinicalkb/medrag/internal/rag"
)

var (
	dosingPattern       = regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s*(mg|mcg|ug|ml|units?)\b|\bdos(e|age|ing)\b`)
	attributionPattern  = regexp.MustCompile(`(?i)according to|source:|reference:|\bchapter\b|\bguideline`)
	disclaimerPattern   = regexp.MustCompile(`(?i)consult|healthcare (professional|provider)|seek medical|qualified (clinician|physician)`)
	escalationPattern   = regexp.MustCompile(`(?i)\b911\b|emergency (services|department|room)|call emergency|seek immediate`)
	verificationPattern = regexp.MustCompile(`(?i)verify|confirm with|pharmacist|prescribing information|local protocol`)
)

// ClinicalValidator runs the post-generation safety battery. Each check that
// fails appends a warning; the report passes while warnings stay under the
// configured threshold. Validation never mutates the answer text.
type ClinicalValidator struct {
	minAnswerLength  int
	warningThreshold int
}

func NewClinicalValidator(minAnswerLength, warningThreshold int) *ClinicalValidator {
	if minAnswerLength <= 0 {
		minAnswerLength = 200
	}
	if warningThreshold <= 0 {
		warningThreshold = 3
	}
	return &ClinicalValidator{minAnswerLength: minAnswerLength, warningThreshold: warningThreshold}
}

// Validate inspects the answer against the clinical context. The professional
// consultation check is waived in specialty settings where the reader is
// assumed to be a clinician.
func (v *ClinicalValidator) Validate(answer string, mctx rag.MedicalContext) rag.ValidationReport {
	report := rag.ValidationReport{Checks: map[string]bool{}}
	record := func(name string, ok bool, warning string) {
		report.Checks[name] = ok
		if !ok {
			report.Warnings = append(report.Warnings, warning)
		}
	}

	trimmed := strings.TrimSpace(answer)
	record("minimum_length", len(trimmed) >= v.minAnswerLength,
		"answer is shorter than the minimum expected for a clinical response")

	record("source_attribution", attributionPattern.MatchString(answer),
		"answer does not attribute statements to corpus sources")

	if mctx.ClinicalSetting != rag.SettingSpecialty {
		record("professional_disclaimer", disclaimerPattern.MatchString(answer),
			"answer lacks guidance to consult a healthcare professional")
	}

	if mctx.Urgency == rag.UrgencyCritical {
		record("escalation_guidance", escalationPattern.MatchString(answer),
			"critical-urgency answer lacks emergency escalation guidance")
	}

	if dosingPattern.MatchString(answer) {
		record("dosing_verification", verificationPattern.MatchString(answer),
			"answer mentions dosing without advising verification")
	}

	report.Passed = len(report.Warnings) < v.warningThreshold
	return report
}
