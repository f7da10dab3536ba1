package action

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Type
	}{
		{"known email action", "email_send", EmailSend},
		{"known read action", "calendar_read", CalendarRead},
		{"unknown action", "rocket_launch", Unknown},
		{"empty string", "", Unknown},
		{"case sensitive", "EMAIL_SEND", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.input); got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsKnown(t *testing.T) {
	if !EmailSend.IsKnown() {
		t.Error("EmailSend should be known")
	}
	if Unknown.IsKnown() {
		t.Error("Unknown should not be known")
	}
	if Type("made_up").IsKnown() {
		t.Error("arbitrary type should not be known")
	}
}

func TestKnownCoversAllDeclared(t *testing.T) {
	all := Known()
	if len(all) == 0 {
		t.Fatal("Known() returned no actions")
	}
	for _, a := range all {
		if !a.IsKnown() {
			t.Errorf("Known() returned %v which IsKnown rejects", a)
		}
		if a == Unknown {
			t.Error("Known() must not include Unknown")
		}
	}
}
