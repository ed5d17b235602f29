package storage

import (
	"testing"

	"github.com/google/uuid"
)

func TestSanitizeJSONForPostgres(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"text":"ab\u0000c"}`, `{"text":"abc"}`},
		{`{"text":"a\u0007b"}`, `{"text":"a b"}`},
		{`{"text":"tab\u001Fend"}`, `{"text":"tab end"}`},
		{`{"text":"ok A"}`, `{"text":"ok A"}`},
	}
	for _, tt := range tests {
		if got := string(sanitizeJSONForPostgres([]byte(tt.in))); got != tt.want {
			t.Errorf("sanitize(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestJobUUID(t *testing.T) {
	id := uuid.New().String()
	if got := JobUUID(id); got != id {
		t.Fatalf("UUID job IDs must pass through, got %s", got)
	}

	a, b := JobUUID("1234"), JobUUID("1234")
	if a != b {
		t.Fatalf("derived IDs not stable: %s vs %s", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("derived ID %q is not a UUID: %v", a, err)
	}
	if JobUUID("1235") == a {
		t.Fatal("different job IDs map to the same UUID")
	}
}

func TestResultCacheKey(t *testing.T) {
	if got := resultCacheKey("job-1"); got != "sheetscan:result:job-1" {
		t.Fatalf("got %s", got)
	}
}

func TestNewPostgresClientRequiresURL(t *testing.T) {
	if _, err := NewPostgresClient(""); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
