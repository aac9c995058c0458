package profile

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work", "a", "my-profile", "under_score", "p123"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "semi;colon", "dot.name", "é"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}
