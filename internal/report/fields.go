package report

import "github.com/iago/gasometria-back/internal/domain"

// Range is a reference interval. Text is what the report prints; Low and
// High drive the H/L flag when both are set.
type Range struct {
	Low  float64
	High float64
	Text string
}

type Field struct {
	Key         string
	Label       string
	Unit        string
	Description string
	Arterial    Range
	Venous      Range
}

func (f Field) RangeFor(gasType domain.GasType) Range {
	if gasType == domain.GasTypeVenous {
		return f.Venous
	}
	return f.Arterial
}

type Section struct {
	Title  string
	Fields []Field
}

// InterpretationKey holds the optional free-text interpretation.
const InterpretationKey = "interpretation"

func between(low, high float64, text string) Range {
	return Range{Low: low, High: high, Text: text}
}

func textOnly(text string) Range {
	return Range{Text: text}
}

var sections = []Section{
	{
		Title: "ACID-BASE",
		Fields: []Field{
			{Key: "ph", Label: "pH", Description: "blood pH, two decimals",
				Arterial: between(7.35, 7.45, "7.35 - 7.45"), Venous: between(7.31, 7.41, "7.31 - 7.41")},
			{Key: "pco2", Label: "pCO2", Unit: "mmHg", Description: "partial pressure of CO2",
				Arterial: between(35, 45, "35 - 45"), Venous: between(41, 51, "41 - 51")},
			{Key: "hco3", Label: "HCO3-", Unit: "mmol/L", Description: "actual bicarbonate",
				Arterial: between(22, 26, "22 - 26"), Venous: between(23, 29, "23 - 29")},
			{Key: "be", Label: "BE(B)", Unit: "mmol/L", Description: "base excess, signed",
				Arterial: between(-2, 2, "-2 - +2"), Venous: between(-2, 2, "-2 - +2")},
			{Key: "anion_gap", Label: "Anion Gap", Unit: "mmol/L", Description: "Na - (Cl + HCO3)",
				Arterial: between(8, 16, "8 - 16"), Venous: between(8, 16, "8 - 16")},
		},
	},
	{
		Title: "OXYGENATION",
		Fields: []Field{
			{Key: "po2", Label: "pO2", Unit: "mmHg", Description: "partial pressure of O2",
				Arterial: between(80, 100, "80 - 100"), Venous: between(30, 50, "30 - 50")},
			{Key: "so2", Label: "sO2", Unit: "%", Description: "oxygen saturation",
				Arterial: between(95, 99, "95 - 99"), Venous: between(60, 80, "60 - 80")},
			{Key: "fio2", Label: "FiO2", Unit: "%", Description: "inspired oxygen fraction used for the sample",
				Arterial: textOnly("21 (room air)"), Venous: textOnly("21 (room air)")},
		},
	},
	{
		Title: "ELECTROLYTES",
		Fields: []Field{
			{Key: "na", Label: "Na+", Unit: "mmol/L", Description: "sodium",
				Arterial: between(135, 145, "135 - 145"), Venous: between(135, 145, "135 - 145")},
			{Key: "k", Label: "K+", Unit: "mmol/L", Description: "potassium, one decimal",
				Arterial: between(3.5, 5.0, "3.5 - 5.0"), Venous: between(3.5, 5.1, "3.5 - 5.1")},
			{Key: "cl", Label: "Cl-", Unit: "mmol/L", Description: "chloride",
				Arterial: between(98, 107, "98 - 107"), Venous: between(98, 107, "98 - 107")},
			{Key: "ica", Label: "Ca++", Unit: "mmol/L", Description: "ionized calcium, two decimals",
				Arterial: between(1.15, 1.29, "1.15 - 1.29"), Venous: between(1.12, 1.32, "1.12 - 1.32")},
		},
	},
	{
		Title: "METABOLITES",
		Fields: []Field{
			{Key: "glucose", Label: "Glucose", Unit: "mg/dL", Description: "blood glucose",
				Arterial: between(70, 110, "70 - 110"), Venous: between(70, 110, "70 - 110")},
			{Key: "lactate", Label: "Lactate", Unit: "mmol/L", Description: "lactate, one decimal",
				Arterial: between(0.5, 1.6, "0.5 - 1.6"), Venous: between(0.5, 2.2, "0.5 - 2.2")},
		},
	},
	{
		Title: "CO-OXIMETRY",
		Fields: []Field{
			{Key: "thb", Label: "tHb", Unit: "g/dL", Description: "total hemoglobin",
				Arterial: between(12.0, 17.5, "12.0 - 17.5"), Venous: between(12.0, 17.5, "12.0 - 17.5")},
			{Key: "o2hb", Label: "O2Hb", Unit: "%", Description: "oxyhemoglobin fraction",
				Arterial: between(94, 98, "94 - 98"), Venous: between(60, 80, "60 - 80")},
			{Key: "cohb", Label: "COHb", Unit: "%", Description: "carboxyhemoglobin fraction",
				Arterial: between(0.5, 1.5, "0.5 - 1.5"), Venous: between(0.5, 1.5, "0.5 - 1.5")},
			{Key: "methb", Label: "MetHb", Unit: "%", Description: "methemoglobin fraction",
				Arterial: between(0.0, 1.5, "0.0 - 1.5"), Venous: between(0.0, 1.5, "0.0 - 1.5")},
			{Key: "hhb", Label: "HHb", Unit: "%", Description: "deoxyhemoglobin fraction",
				Arterial: between(0, 5, "0 - 5"), Venous: between(20, 40, "20 - 40")},
		},
	},
}

// Sections returns the report layout in print order.
func Sections() []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	return out
}

// Fields returns every laboratory field the report renders.
func Fields() []Field {
	out := make([]Field, 0, 20)
	for _, section := range sections {
		out = append(out, section.Fields...)
	}
	return out
}
