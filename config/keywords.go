package config

// KeywordTables maps medical terms to classification outcomes. The tables are
// a configurable heuristic, not a trained classifier; deployments can extend
// or replace them wholesale via the config file.
type KeywordTables struct {
	AgeGroups   map[string][]string `mapstructure:"age_groups"`
	Urgency     map[string][]string `mapstructure:"urgency"`
	Specialties map[string][]string `mapstructure:"specialties"`
	QueryTypes  map[string][]string `mapstructure:"query_types"`
}

// Normalize fills in the built-in tables for any section left empty.
func (k KeywordTables) Normalize() KeywordTables {
	if len(k.AgeGroups) == 0 {
		k.AgeGroups = defaultAgeGroupTerms()
	}
	if len(k.Urgency) == 0 {
		k.Urgency = defaultUrgencyTerms()
	}
	if len(k.Specialties) == 0 {
		k.Specialties = defaultSpecialtyTerms()
	}
	if len(k.QueryTypes) == 0 {
		k.QueryTypes = defaultQueryTypeTerms()
	}
	return k
}

func defaultAgeGroupTerms() map[string][]string {
	return map[string][]string{
		"neonate":    {"newborn", "neonate", "neonatal", "premature infant"},
		"infant":     {"infant", "baby", "month old", "months old"},
		"child":      {"child", "children", "pediatric", "paediatric", "year old child", "toddler", "preschool", "school age"},
		"adolescent": {"adolescent", "teenager", "teen", "puberty"},
		"adult":      {"adult", "middle aged"},
		"elderly":    {"elderly", "geriatric", "older adult", "senior", "over 65"},
	}
}

func defaultUrgencyTerms() map[string][]string {
	return map[string][]string{
		"critical": {"cardiac arrest", "not breathing", "unconscious", "anaphylaxis", "severe bleeding", "overdose", "stroke symptoms", "unresponsive"},
		"high":     {"emergency", "urgent", "severe", "acute", "chest pain", "shortness of breath", "high fever", "worsening rapidly"},
		"medium":   {"persistent", "recurring", "ongoing", "getting worse", "several days"},
		"low":      {"mild", "occasional", "routine", "general question", "curious"},
	}
}

func defaultSpecialtyTerms() map[string][]string {
	return map[string][]string{
		"cardiology":          {"heart", "cardiac", "chest pain", "arrhythmia", "hypertension", "blood pressure"},
		"pulmonology":         {"lung", "asthma", "copd", "breathing", "respiratory", "pneumonia"},
		"pediatrics":          {"child", "pediatric", "paediatric", "infant", "newborn", "vaccination schedule"},
		"neurology":           {"headache", "migraine", "seizure", "stroke", "numbness", "neurological"},
		"endocrinology":       {"diabetes", "thyroid", "insulin", "hormone", "blood sugar"},
		"gastroenterology":    {"stomach", "abdominal", "nausea", "diarrhea", "liver", "digestive"},
		"dermatology":         {"rash", "skin", "eczema", "psoriasis", "mole"},
		"infectious_diseases": {"infection", "fever", "antibiotic", "viral", "bacterial", "sepsis"},
		"psychiatry":          {"depression", "anxiety", "mental health", "insomnia", "panic"},
		"emergency_medicine":  {"trauma", "injury", "poisoning", "burn", "fracture"},
	}
}

func defaultQueryTypeTerms() map[string][]string {
	return map[string][]string{
		"diagnosis": {"what is causing", "diagnos", "symptoms of", "signs of", "could this be", "do i have"},
		"treatment": {"treatment", "treat", "therapy", "medication for", "how to manage", "cure", "dosage", "dose"},
		"emergency": {"emergency", "call 911", "ambulance", "immediately", "right now"},
		"education": {"explain", "what does", "how does", "teach", "learn about", "difference between"},
	}
}
