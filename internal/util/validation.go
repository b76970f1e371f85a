package util

// IsValidEnum reports whether value is one of validValues. An empty value is
// accepted so optional fields can be left unset.
func IsValidEnum(value string, validValues ...string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
