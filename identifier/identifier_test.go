package identifier

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"https://www.services.fne.dgi.gouv.ci/fr/verification/019bd62c-467e-7000-82ac-45c8389c7f05", "019bd62c-467e-7000-82ac-45c8389c7f05", true},
		{"https://x/019BD62C-467E-7000-82AC-45C8389C7F05", "019bd62c-467e-7000-82ac-45c8389c7f05", true},
		{"http://www.services.fne.dgi.gouv.ci/fr/verification/abcdef12-3456-7890-abcd-ef1234567890", "abcdef12-3456-7890-abcd-ef1234567890", true},
		{"019bd62c-467e-7000-82ac-45c8389c7f05", "019bd62c-467e-7000-82ac-45c8389c7f05", true},
		{"prefix 019bd62c-467e-7000-82ac-45c8389c7f05?ref=1", "019bd62c-467e-7000-82ac-45c8389c7f05", true},
		{"https://google.com", "", false},
		{"", "", false},
		{"not-a-url", "", false},
		{"019bd62c-467e-7000-82ac-45c8389c7f0", "", false},
		{"019bd62g-467e-7000-82ac-45c8389c7f05", "", false},
	}
	for _, tt := range tests {
		got, ok := Extract(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Extract(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtractAlwaysLowercase(t *testing.T) {
	mixed := []string{
		"AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE",
		"aAaAaAaA-bBbB-cCcC-dDdD-eEeEeEeEeEeE",
		"https://host/path/ABCDEF12-3456-7890-ABCD-EF1234567890/tail",
	}
	for _, in := range mixed {
		got, ok := Extract(in)
		if !ok {
			t.Fatalf("Extract(%q) not found", in)
		}
		for _, r := range got {
			if r >= 'A' && r <= 'Z' {
				t.Errorf("Extract(%q) = %q, contains upper case", in, got)
				break
			}
		}
	}
}

func TestValidateDGIURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://www.services.fne.dgi.gouv.ci/fr/verification/019bd62c-467e-7000-82ac-45c8389c7f05", true},
		{"https://services.fne.dgi.gouv.ci/verification/019bd62c-467e-7000-82ac-45c8389c7f05", true},
		{"  https://services.fne.dgi.gouv.ci/x  ", true},
		{"https://fake-services.fne.dgi.gouv.ci/test", false},
		{"https://services.fne.dgi.gouv.ci.evil.com/test", false},
		{"ftp://services.fne.dgi.gouv.ci/test", false},
		{"https://google.com", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		got, reason := ValidateDGIURL(tt.in)
		if got != tt.want {
			t.Errorf("ValidateDGIURL(%q) = %v (%s), want %v", tt.in, got, reason, tt.want)
		}
		if !got && reason == "" {
			t.Errorf("ValidateDGIURL(%q) rejected without a reason", tt.in)
		}
	}
}
