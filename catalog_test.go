package main

import (
	"errors"
	"testing"
)

func TestRequireBaseTable(t *testing.T) {
	name := QualifiedName{Schema: "public", Table: "users"}
	if err := requireBaseTable(name, "BASE TABLE"); err != nil {
		t.Errorf("BASE TABLE: unexpected error %v", err)
	}

	tests := []struct {
		tableType string
		want      string
	}{
		{"VIEW", "check table existence: public.users is a view, not a base table"},
		{"FOREIGN", "check table existence: public.users is a foreign table, not a base table"},
	}
	for _, tt := range tests {
		err := requireBaseTable(name, tt.tableType)
		var qe *QueryError
		if !errors.As(err, &qe) {
			t.Errorf("%s: error = %v, want *QueryError", tt.tableType, err)
			continue
		}
		if err.Error() != tt.want {
			t.Errorf("%s: error = %q, want %q", tt.tableType, err, tt.want)
		}
	}
}
