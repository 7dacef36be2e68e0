package privacy

import "testing"

func TestMaskName(t *testing.T) {
	cases := map[string]string{
		"Jane Doe":  "J*** D**",
		"Cher":      "C***",
		"":          "",
		"李 明":       "李 明",
		"Ana-Maria": "A********",
	}
	for in, want := range cases {
		if got := MaskName(in); got != want {
			t.Errorf("MaskName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactEmail(t *testing.T) {
	if got := RedactEmail("jane.doe@example.com"); got != "j***@example.com" {
		t.Errorf("RedactEmail = %q", got)
	}
	if got := RedactEmail("not-an-email"); got != "***" {
		t.Errorf("RedactEmail on malformed input = %q", got)
	}
}

func TestAnonymizeIP(t *testing.T) {
	if got := AnonymizeIP("203.0.113.77"); got != "203.0.113.0" {
		t.Errorf("AnonymizeIP v4 = %q", got)
	}
	if got := AnonymizeIP("garbage"); got != "" {
		t.Errorf("AnonymizeIP garbage = %q", got)
	}
}
