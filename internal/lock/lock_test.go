package lock

import "testing"

func TestRunKey(t *testing.T) {
	t.Parallel()

	if got := RunKey("9130"); got != "qbimport:run:9130" {
		t.Fatalf("expected qbimport:run:9130, got %s", got)
	}
}
