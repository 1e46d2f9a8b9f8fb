package storage

import (
	"strings"
	"testing"
)

func TestValidateContentType(t *testing.T) {
	cases := map[string]bool{
		"image/png":                 true,
		"IMAGE/JPEG":                true,
		"text/plain; charset=utf-8": true,
		"audio/mpeg":                true,
		"application/zip":           false,
		"":                          false,
	}
	for ct, ok := range cases {
		err := ValidateContentType(ct)
		if ok && err != nil {
			t.Errorf("expected %q to be allowed, got %v", ct, err)
		}
		if !ok && err == nil {
			t.Errorf("expected %q to be rejected", ct)
		}
	}
}

func TestValidateFileSize(t *testing.T) {
	s := &MinIOService{maxFileSize: 10}
	if err := s.ValidateFileSize(0); err == nil {
		t.Error("expected empty file to be rejected")
	}
	if err := s.ValidateFileSize(11); err == nil {
		t.Error("expected oversized file to be rejected")
	}
	if err := s.ValidateFileSize(10); err != nil {
		t.Errorf("expected file at the limit to pass, got %v", err)
	}
}

func TestObjectKeyStripsDirectories(t *testing.T) {
	key := objectKey("offers/abc", "../../etc/passwd.txt")
	if !strings.HasPrefix(key, "offers/abc/passwd_") || !strings.HasSuffix(key, ".txt") {
		t.Fatalf("unexpected key %q", key)
	}
	key = objectKey("offers/abc", `C:\Users\me\call.mp3`)
	if !strings.HasPrefix(key, "offers/abc/call_") {
		t.Fatalf("unexpected key %q", key)
	}
}
