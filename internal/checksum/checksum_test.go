package checksum

import (
	"io"
	"strings"
	"testing"
)

func TestReaderMatchesSum(t *testing.T) {
	content := "docx bytes"
	r := NewReader(strings.NewReader(content))
	if _, err := io.Copy(io.Discard, r); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if got, want := r.Sum(), Sum([]byte(content)); got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
	if r.Len() != int64(len(content)) {
		t.Errorf("Len = %d, want %d", r.Len(), len(content))
	}
}
