// Package report renders generated blood-gas values as a fixed-width
// laboratory report.
package report

import (
	"strconv"
	"strings"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/mattn/go-runewidth"
	"github.com/mitchellh/go-wordwrap"
)

const (
	Width = 64

	labelWidth = 14
	valueWidth = 10
	flagWidth  = 4
	unitWidth  = 9
	textIndent = "  "
)

// Format renders record for the given sample type. It never fails: absent
// keys render as blank values with labels, units and ranges intact.
func Format(record map[string]string, gasType domain.GasType, scenario string) string {
	if gasType != domain.GasTypeVenous {
		gasType = domain.GasTypeArterial
	}
	record = normalizeKeys(record)

	var b strings.Builder
	heavy := strings.Repeat("=", Width)
	light := strings.Repeat("-", Width)

	writeLine(&b, heavy)
	writeLine(&b, center("BLOOD GAS ANALYSIS REPORT"))
	writeLine(&b, heavy)
	writeLine(&b, "Sample type : "+string(gasType))
	writeLine(&b, "Specimen    : "+specimen(gasType))
	writeLine(&b, light)

	writeLine(&b, "CLINICAL SCENARIO")
	writeWrapped(&b, scenario)
	writeLine(&b, light)

	writeLine(&b, row("TEST", "RESULT", "", "UNIT", "REFERENCE ("+strings.ToUpper(string(gasType))+")"))
	for _, section := range Sections() {
		b.WriteString("\n")
		writeLine(&b, section.Title)
		for _, field := range section.Fields {
			value := lookup(record, field.Key)
			reference := field.RangeFor(gasType)
			writeLine(&b, row(textIndent+field.Label, value, flag(value, reference), field.Unit, reference.Text))
		}
	}

	if interpretation := lookup(record, InterpretationKey); interpretation != "" {
		writeLine(&b, light)
		writeLine(&b, "INTERPRETATION")
		writeWrapped(&b, interpretation)
	}

	writeLine(&b, heavy)
	writeLine(&b, "Simulated values for teaching purposes only.")
	return b.String()
}

func specimen(gasType domain.GasType) string {
	if gasType == domain.GasTypeVenous {
		return "Venous whole blood"
	}
	return "Arterial whole blood"
}

// normalizeKeys folds case and separators so "pCO2", "Anion Gap" and
// "anion-gap" reach the catalog keys. An exact key wins over a folded
// duplicate; among folded duplicates the lowest original key wins.
func normalizeKeys(record map[string]string) map[string]string {
	if len(record) == 0 {
		return record
	}
	normalized := make(map[string]string, len(record))
	origin := make(map[string]string, len(record))
	for key, value := range record {
		folded := foldKey(key)
		if _, exact := record[folded]; exact && folded != key {
			continue
		}
		if previous, seen := origin[folded]; seen && previous != folded && previous < key {
			continue
		}
		normalized[folded] = value
		origin[folded] = key
	}
	return normalized
}

func foldKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}

func lookup(record map[string]string, key string) string {
	if record == nil {
		return ""
	}
	return strings.TrimSpace(record[key])
}

// flag marks numeric values outside the reference interval.
func flag(value string, reference Range) string {
	if value == "" || (reference.Low == 0 && reference.High == 0) {
		return ""
	}
	number, err := strconv.ParseFloat(strings.TrimPrefix(value, "+"), 64)
	if err != nil {
		return ""
	}
	switch {
	case number < reference.Low:
		return "L"
	case number > reference.High:
		return "H"
	default:
		return ""
	}
}

func row(label, value, flag, unit, reference string) string {
	line := cell(label, labelWidth) + cell(value, valueWidth) + cell(flag, flagWidth) + cell(unit, unitWidth) + reference
	return strings.TrimRight(line, " ")
}

func cell(text string, width int) string {
	if runewidth.StringWidth(text) >= width {
		text = runewidth.Truncate(text, width-1, "")
	}
	return runewidth.FillRight(text, width)
}

func center(text string) string {
	padding := (Width - runewidth.StringWidth(text)) / 2
	if padding <= 0 {
		return text
	}
	return strings.Repeat(" ", padding) + text
}

func writeWrapped(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		writeLine(b, textIndent+"(none provided)")
		return
	}
	for _, paragraph := range strings.Split(text, "\n") {
		paragraph = strings.Join(strings.Fields(paragraph), " ")
		if paragraph == "" {
			continue
		}
		wrapped := wordwrap.WrapString(paragraph, uint(Width-len(textIndent)))
		for _, line := range strings.Split(wrapped, "\n") {
			writeLine(b, textIndent+line)
		}
	}
}

func writeLine(b *strings.Builder, line string) {
	b.WriteString(line)
	b.WriteString("\n")
}
