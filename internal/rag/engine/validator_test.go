package engine

import (
	"strings"
	"testing"

	"github.com/clinicalkb/medrag/internal/rag"
)

var fullAnswer = strings.Repeat("According to the Cardiology chapter, beta blockers reduce mortality after infarction. ", 4) +
	"Verify any dose of 25 mg against current prescribing information. " +
	"Consult a healthcare professional before changing therapy."

func TestValidatePassesCompleteAnswer(t *testing.T) {
	v := NewClinicalValidator(200, 3)

	report := v.Validate(fullAnswer, rag.MedicalContext{Urgency: rag.UrgencyMedium, ClinicalSetting: rag.SettingGeneral})

	if !report.Passed {
		t.Fatalf("expected pass, warnings: %v", report.Warnings)
	}
	if len(report.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", report.Warnings)
	}
}

func TestValidateShortAnswer(t *testing.T) {
	v := NewClinicalValidator(200, 3)

	report := v.Validate("Take rest.", rag.MedicalContext{ClinicalSetting: rag.SettingGeneral})

	if report.Checks["minimum_length"] {
		t.Fatalf("short answer passed the length check")
	}
	if report.Passed {
		t.Fatalf("answer failing multiple checks should not pass")
	}
}

func TestValidateMissingAttribution(t *testing.T) {
	v := NewClinicalValidator(50, 3)

	report := v.Validate(strings.Repeat("Rest and fluids are generally recommended for mild cases. ", 3)+
		"Consult a healthcare professional.", rag.MedicalContext{ClinicalSetting: rag.SettingGeneral})

	if report.Checks["source_attribution"] {
		t.Fatalf("unattributed answer passed the attribution check")
	}
}

func TestValidateDisclaimerWaivedInSpecialtySetting(t *testing.T) {
	v := NewClinicalValidator(50, 3)
	answer := strings.Repeat("According to the Pulmonology chapter, step-up therapy applies. ", 3)

	specialty := v.Validate(answer, rag.MedicalContext{ClinicalSetting: rag.SettingSpecialty})
	if _, checked := specialty.Checks["professional_disclaimer"]; checked {
		t.Fatalf("disclaimer check should be skipped for specialty settings")
	}

	general := v.Validate(answer, rag.MedicalContext{ClinicalSetting: rag.SettingGeneral})
	if general.Checks["professional_disclaimer"] {
		t.Fatalf("missing disclaimer not flagged in a general setting")
	}
}

func TestValidateEscalationRequiredForCritical(t *testing.T) {
	v := NewClinicalValidator(50, 3)
	noEscalation := strings.Repeat("According to the Emergency chapter, aspirin may be considered. ", 3) +
		"Consult a healthcare professional."

	report := v.Validate(noEscalation, rag.MedicalContext{Urgency: rag.UrgencyCritical, ClinicalSetting: rag.SettingEmergency})
	if report.Checks["escalation_guidance"] {
		t.Fatalf("missing escalation guidance not flagged for critical urgency")
	}

	withEscalation := "Call 911 or emergency services immediately. " + noEscalation
	report = v.Validate(withEscalation, rag.MedicalContext{Urgency: rag.UrgencyCritical, ClinicalSetting: rag.SettingEmergency})
	if !report.Checks["escalation_guidance"] {
		t.Fatalf("escalation guidance present but not recognised")
	}
}

func TestValidateDosingNeedsVerification(t *testing.T) {
	v := NewClinicalValidator(50, 3)
	dosing := strings.Repeat("According to the guideline, amoxicillin 500 mg three times daily is standard. ", 3) +
		"Consult a healthcare professional."

	report := v.Validate(dosing, rag.MedicalContext{ClinicalSetting: rag.SettingGeneral})
	if report.Checks["dosing_verification"] {
		t.Fatalf("dosing without verification advice not flagged")
	}

	report = v.Validate(dosing+" Verify the dose against current prescribing information.", rag.MedicalContext{ClinicalSetting: rag.SettingGeneral})
	if !report.Checks["dosing_verification"] {
		t.Fatalf("verification advice present but not recognised")
	}

	noDosing := strings.Repeat("According to the guideline, rest and hydration are advised. ", 3) +
		"Consult a healthcare professional."
	report = v.Validate(noDosing, rag.MedicalContext{ClinicalSetting: rag.SettingGeneral})
	if _, checked := report.Checks["dosing_verification"]; checked {
		t.Fatalf("dosing check should only run when dosing language appears")
	}
}

func TestValidateWarningThreshold(t *testing.T) {
	v := NewClinicalValidator(200, 2)

	// short + unattributed + no disclaimer = 3 warnings against a threshold of 2
	report := v.Validate("Short.", rag.MedicalContext{ClinicalSetting: rag.SettingGeneral})
	if report.Passed {
		t.Fatalf("expected failure at %d warnings with threshold 2", len(report.Warnings))
	}
}
