package pharmacy

import "strings"

// Frequency codes are matched as substrings in this order; the first hit
// wins.
var frequencies = []struct {
	codes []string
	doses int
}{
	{[]string{"OD", "ONCE DAILY", "MANE", "NOCTE"}, 1},
	{[]string{"BD", "TWICE DAILY"}, 2},
	{[]string{"TDS", "THREE TIMES DAILY"}, 3},
	{[]string{"QDS", "QID", "FOUR TIMES DAILY"}, 4},
}

// DosesPerDay maps a free-text dosage code to doses per day. Unknown codes
// count as one dose.
func DosesPerDay(instructions string) int {
	upper := strings.ToUpper(instructions)
	for _, f := range frequencies {
		for _, code := range f.codes {
			if strings.Contains(upper, code) {
				return f.doses
			}
		}
	}
	return 1
}

// ComputeTotalQuantity is the number of units a line draws from its batch.
func ComputeTotalQuantity(quantityPerDose int, instructions string, daysSupply int) int {
	return quantityPerDose * DosesPerDay(instructions) * daysSupply
}
