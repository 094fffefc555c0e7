package testutil

import "testing"

func TestSplitSQLDropsCommentsAndBlanks(t *testing.T) {
	in := "-- header\nCREATE TABLE a (id INT);\n\n-- note\nCREATE INDEX a_idx ON a (id);\n"
	got := splitSQL(stripSQLComments(in))
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (id INT)" {
		t.Errorf("unexpected first statement %q", got[0])
	}
}
