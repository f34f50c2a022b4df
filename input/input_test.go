package input

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantField string
	}{
		{"valid without link", Request{Idea: "a task manager with a smart inbox"}, ""},
		{"valid with link", Request{Idea: "a task manager with a smart inbox", Link: "https://github.com/acme/widget"}, ""},
		{"empty idea", Request{Idea: ""}, "idea"},
		{"whitespace idea", Request{Idea: "   \n\t "}, "idea"},
		{"nine runes", Request{Idea: "too short"}, "idea"},
		{"ten runes passes", Request{Idea: "just long."}, ""},
		{"ten chinese runes pass", Request{Idea: "一个帮助学生背单词的应用"}, ""},
		{"idea too long", Request{Idea: strings.Repeat("很", MaxIdeaLength+1)}, "idea"},
		{"schemeless link", Request{Idea: "a task manager with a smart inbox", Link: "github.com/acme/widget"}, "link"},
		{"ftp link", Request{Idea: "a task manager with a smart inbox", Link: "ftp://files.acme.dev/spec"}, "link"},
		{"javascript link", Request{Idea: "a task manager with a smart inbox", Link: "javascript:alert(1)"}, "link"},
		{"hostless link", Request{Idea: "a task manager with a smart inbox", Link: "http://"}, "link"},
		{"unparsable link", Request{Idea: "a task manager with a smart inbox", Link: "http://bad host/"}, "link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("error field = %q, want %q (%v)", verr.Field, tt.wantField, verr)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Request
		want Request
	}{
		{
			"trims idea",
			Request{Idea: "  an idea worth building  "},
			Request{Idea: "an idea worth building"},
		},
		{
			"strips link quotes",
			Request{Idea: "x", Link: ` "https://github.com/acme/widget" `},
			Request{Idea: "x", Link: "https://github.com/acme/widget"},
		},
		{
			"strips single quotes",
			Request{Idea: "x", Link: "'https://go.dev'"},
			Request{Idea: "x", Link: "https://go.dev"},
		},
		{
			"empty stays empty",
			Request{},
			Request{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := Validate(Request{Idea: "short"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid idea") {
		t.Errorf("Error() = %q", err.Error())
	}
}
