package security

import (
	"strings"
	"testing"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"numeric id", "10293", false},
		{"unicode", "搜索", false},
		{"at max", strings.Repeat("a", MaxQueryLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxQueryLength+1), true},
		{"space", "two words", true},
		{"tab", "q\t1", true},
		{"invalid utf8", "q\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.query)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDoc(t *testing.T) {
	if err := ValidateDoc("doc-1"); err != nil {
		t.Errorf("ValidateDoc(doc-1) = %v", err)
	}
	if err := ValidateDoc(strings.Repeat("d", MaxDocLength+1)); err == nil {
		t.Error("expected error for long doc")
	}
	if err := ValidateDoc("a\nb"); err == nil {
		t.Error("expected error for newline")
	}
}

func TestValidateSessionCount(t *testing.T) {
	for _, tt := range []struct {
		n       int
		wantErr bool
	}{
		{0, true}, {1, false}, {MaxSessions, false}, {MaxSessions + 1, true},
	} {
		if err := ValidateSessionCount(tt.n); (err != nil) != tt.wantErr {
			t.Errorf("ValidateSessionCount(%d) error = %v, wantErr %v", tt.n, err, tt.wantErr)
		}
	}
}

func TestSessionValidator(t *testing.T) {
	tests := []struct {
		name    string
		v       SessionValidator
		wantErr bool
	}{
		{"valid", SessionValidator{Query: "q", Docs: []string{"a", "b"}}, false},
		{"no docs", SessionValidator{Query: "q"}, false},
		{"bad query", SessionValidator{Query: "", Docs: []string{"a"}}, true},
		{"bad doc", SessionValidator{Query: "q", Docs: []string{"a", ""}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.v.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "query", Value: 2000, Constraint: "too long"}
	if !strings.Contains(err.Error(), "query") || !strings.Contains(err.Error(), "2000") {
		t.Errorf("Error() = %q", err.Error())
	}

	errNoValue := &ValidationError{Field: "query", Constraint: "required"}
	if !strings.Contains(errNoValue.Error(), "required") {
		t.Errorf("Error() = %q", errNoValue.Error())
	}
}
