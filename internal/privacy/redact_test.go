package privacy

import (
	"testing"
)

func TestNew_Valid(t *testing.T) {
	r, err := New([]string{`(?i)token`, `\bsecret\b`})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(r.patterns) != 2 {
		t.Errorf("got %d patterns, want 2", len(r.patterns))
	}
}

func TestNew_Invalid(t *testing.T) {
	_, err := New([]string{`[invalid`})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestNew_EmptyIsNil(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if r != nil {
		t.Fatalf("got %v, want nil redactor", r)
	}
	if got := r.Apply("untouched"); got != "untouched" {
		t.Errorf("nil redactor changed text to %q", got)
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		in       string
		want     string
	}{
		{"single", []string{`(?i)token`}, "My API Token is abc123", "My API [REDACTED] is abc123"},
		{"multiple", []string{`\d{4}-\d{4}`, `@\w+`}, "call 5555-1234 or ping @someone", "call [REDACTED] or ping [REDACTED]"},
		{"no match", []string{`xyz`}, "nothing here", "nothing here"},
		{"unicode", []string{`電話`}, "我的電話是", "我的[REDACTED]是"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.patterns)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if got := r.Apply(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
