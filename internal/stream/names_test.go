package stream

import "testing"

func TestNameDerivation(t *testing.T) {
	if got := StreamName("u1"); got != "stream-u1" {
		t.Fatalf("unexpected stream name: %s", got)
	}
	if got := SubjectName("u1", "s1"); got != "subject.u1.s1" {
		t.Fatalf("unexpected subject name: %s", got)
	}
	if got := SubjectPattern("u1"); got != "subject.u1.*" {
		t.Fatalf("unexpected subject pattern: %s", got)
	}
}
