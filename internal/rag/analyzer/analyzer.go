// Package analyzer derives a structured medical context from raw query text.
package analyzer

import (
	"sort"
	"strings"

	"github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/rag"
)

// Match priority orders. Maps iterate in random order, so classification
// walks these lists to stay deterministic; more specific groups come first
// and higher urgency wins.
var (
	ageGroupOrder  = []string{"neonate", "infant", "child", "adolescent", "elderly", "adult"}
	urgencyOrder   = []string{rag.UrgencyCritical, rag.UrgencyHigh, rag.UrgencyMedium, rag.UrgencyLow}
	queryTypeOrder = []string{rag.QueryTypeEmergency, rag.QueryTypeTreatment, rag.QueryTypeDiagnosis, rag.QueryTypeEducation}
)

// Analyzer classifies queries against configurable keyword tables. It is a
// pure function of its inputs and never fails.
type Analyzer struct {
	tables config.KeywordTables
}

// New creates an analyzer from the configured keyword tables.
func New(tables config.KeywordTables) *Analyzer {
	return &Analyzer{tables: tables.Normalize()}
}

// Analyze derives a MedicalContext from the query text. Caller overrides
// always take precedence over inferred values. Absent signals leave fields
// at their defaults: urgency=medium, queryType=information.
func (a *Analyzer) Analyze(queryText string, overrides *rag.ContextOverrides) rag.MedicalContext {
	text := strings.ToLower(queryText)

	ctx := rag.MedicalContext{
		Urgency:   rag.UrgencyMedium,
		QueryType: rag.QueryTypeInformation,
	}

	for _, group := range ageGroupOrder {
		if containsAny(text, a.tables.AgeGroups[group]) {
			ctx.AgeGroup = group
			break
		}
	}

	for _, level := range urgencyOrder {
		if containsAny(text, a.tables.Urgency[level]) {
			ctx.Urgency = level
			break
		}
	}

	for _, qt := range queryTypeOrder {
		if containsAny(text, a.tables.QueryTypes[qt]) {
			ctx.QueryType = qt
			break
		}
	}
	if ctx.Urgency == rag.UrgencyCritical {
		ctx.QueryType = rag.QueryTypeEmergency
	}

	var specialties []string
	for specialty, terms := range a.tables.Specialties {
		if containsAny(text, terms) {
			specialties = append(specialties, specialty)
		}
	}
	sort.Strings(specialties)
	ctx.Specialties = specialties

	ctx.ClinicalSetting = deriveSetting(ctx)
	ctx.EvidencePreference = deriveEvidencePreference(ctx.QueryType)

	applyOverrides(&ctx, overrides)
	return ctx
}

func applyOverrides(ctx *rag.MedicalContext, overrides *rag.ContextOverrides) {
	if overrides == nil {
		return
	}
	if overrides.AgeGroup != "" {
		ctx.AgeGroup = overrides.AgeGroup
	}
	if overrides.Urgency != "" {
		ctx.Urgency = overrides.Urgency
	}
	if len(overrides.Specialties) > 0 {
		specs := append([]string(nil), overrides.Specialties...)
		sort.Strings(specs)
		ctx.Specialties = specs
	}
	if overrides.ClinicalSetting != "" {
		ctx.ClinicalSetting = overrides.ClinicalSetting
	} else if overrides.Urgency != "" || len(overrides.Specialties) > 0 {
		// setting is derived, so re-derive when its inputs were overridden
		ctx.ClinicalSetting = deriveSetting(*ctx)
	}
}

func deriveSetting(ctx rag.MedicalContext) string {
	switch {
	case ctx.Urgency == rag.UrgencyCritical || ctx.Urgency == rag.UrgencyHigh:
		return rag.SettingEmergency
	case len(ctx.Specialties) > 0:
		return rag.SettingSpecialty
	default:
		return rag.SettingGeneral
	}
}

func deriveEvidencePreference(queryType string) string {
	switch queryType {
	case rag.QueryTypeTreatment, rag.QueryTypeDiagnosis, rag.QueryTypeEmergency:
		return rag.EvidenceHigh
	default:
		return ""
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			return true
		}
	}
	return false
}
