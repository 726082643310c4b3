package source

import (
	"io"
	"strings"
	"testing"
)

func drain(t *testing.T, s Source) []string {
	t.Helper()
	var emails []string
	for {
		rec, err := s.Next()
		if err == io.EOF {
			return emails
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		emails = append(emails, rec.Email)
	}
}

func TestCSVSourceMapsAliases(t *testing.T) {
	input := "email_address,fname,lname,zip_code,mobile,subscriber_id,favorite_color\n" +
		"ann@example.com,ann,lee,78701,512-555-0101,sub-9,teal\n"

	s, err := NewCSVSource(strings.NewReader(input), "test.csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	defer s.Close()

	rec, err := s.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.Email != "ann@example.com" {
		t.Errorf("Email = %q", rec.Email)
	}
	if rec.FirstName != "Ann" || rec.LastName != "Lee" {
		t.Errorf("Name = %q %q, want Ann Lee", rec.FirstName, rec.LastName)
	}
	if rec.Zip != "78701" {
		t.Errorf("Zip = %q", rec.Zip)
	}
	if rec.Phone != "5125550101" {
		t.Errorf("Phone = %q, want digits only", rec.Phone)
	}
	if rec.ExternalID != "sub-9" {
		t.Errorf("ExternalID = %q", rec.ExternalID)
	}
	if rec.Extra["favorite_color"] != "teal" {
		t.Errorf("Extra = %v, want favorite_color preserved", rec.Extra)
	}
	if rec.LineNumber != 1 {
		t.Errorf("LineNumber = %d, want 1", rec.LineNumber)
	}
}

func TestCSVSourceNormalizesValues(t *testing.T) {
	input := "Email,First Name,State,Country,Zip\n" +
		"  John.DOE@Example.COM ,jOHN,tx,usa,38824.0\n"

	s, err := NewCSVSource(strings.NewReader(input), "test.csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	defer s.Close()

	rec, err := s.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.Email != "john.doe@example.com" {
		t.Errorf("Email = %q, want lowercased and trimmed", rec.Email)
	}
	if rec.FirstName != "John" {
		t.Errorf("FirstName = %q, want John", rec.FirstName)
	}
	if rec.State != "TX" {
		t.Errorf("State = %q, want TX", rec.State)
	}
	if rec.Country != "US" {
		t.Errorf("Country = %q, want US", rec.Country)
	}
	if rec.Zip != "38824" {
		t.Errorf("Zip = %q, want float suffix stripped", rec.Zip)
	}
}

func TestCSVSourceHeaderless(t *testing.T) {
	input := "bob@example.com,some,other,data\n" +
		"carol@example.com,x,y,z\n"

	s, err := NewCSVSource(strings.NewReader(input), "raw.csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	defer s.Close()

	emails := drain(t, s)
	if len(emails) != 2 {
		t.Fatalf("Expected 2 records including the first row, got %d", len(emails))
	}
	if emails[0] != "bob@example.com" || emails[1] != "carol@example.com" {
		t.Errorf("Emails = %v", emails)
	}
}

func TestCSVSourceBOM(t *testing.T) {
	input := "\xEF\xBB\xBFemail,first_name\ndee@example.com,dee\n"

	s, err := NewCSVSource(strings.NewReader(input), "bom.csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	defer s.Close()

	rec, err := s.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.Email != "dee@example.com" {
		t.Errorf("Email = %q, BOM not stripped from header", rec.Email)
	}
}

func TestCSVSourceSkip(t *testing.T) {
	var b strings.Builder
	b.WriteString("email\n")
	for _, e := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"} {
		b.WriteString(e + "\n")
	}

	s, err := NewCSVSource(strings.NewReader(b.String()), "skip.csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	defer s.Close()

	if err := s.Skip(3); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	rec, err := s.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.Email != "d@example.com" {
		t.Errorf("After Skip(3), got %q, want d@example.com", rec.Email)
	}
	if rec.LineNumber != 4 {
		t.Errorf("LineNumber = %d, want 4 (skip preserves positions)", rec.LineNumber)
	}
}

func TestCSVSourceSkipPastEnd(t *testing.T) {
	s, err := NewCSVSource(strings.NewReader("email\na@example.com\n"), "short.csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	defer s.Close()

	if err := s.Skip(5); err == nil {
		t.Error("Expected error skipping past end of source")
	}
}

func TestCSVSourceNoEmailColumn(t *testing.T) {
	if _, err := NewCSVSource(strings.NewReader("name,age\nann,30\n"), "bad.csv"); err == nil {
		t.Error("Expected error for input without an email column")
	}
}

func TestCSVSourceEmptyInput(t *testing.T) {
	if _, err := NewCSVSource(strings.NewReader(""), "empty.csv"); err == nil {
		t.Error("Expected error for empty input")
	}
}

func TestLooksLikeEmail(t *testing.T) {
	tests := []struct {
		val  string
		want bool
	}{
		{"user@example.com", true},
		{" padded@example.com ", true},
		{"no-at-sign.com", false},
		{"@example.com", false},
		{"user@", false},
		{"user@nodot", false},
		{"a@b.c", true},
		{"a@bc", false},
		{"first_name", false},
	}
	for _, tt := range tests {
		if got := LooksLikeEmail(tt.val); got != tt.want {
			t.Errorf("LooksLikeEmail(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}
