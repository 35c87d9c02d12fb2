package transform

import "strings"

// NameSeries joins names into an AP style list without the serial
// comma: "X", "X and Y", "X, Y and Z".
func NameSeries(names []string) string {
	if len(names) > 2 {
		allButFinal := strings.Join(names[:len(names)-1], ", ")
		return allButFinal + " and " + names[len(names)-1]
	}
	return strings.Join(names, " and ")
}

// lastNameOf returns the final space-separated token of a display name.
// Wall ordering within a level is by last name.
func lastNameOf(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
