package db

import (
	"strings"
	"testing"
)

func TestLowAttendanceQuery_ViewColumns(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     bool
	}{
		{"filters batch by name", "v.batch_name = (SELECT name FROM batches WHERE id::text = $2)", true},
		{"empty batch covers all", "$2 = ''", true},
		{"view has no batch id", "v.batch_id", false},
		{"lowest first", "ORDER BY v.attendance_percentage ASC", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Contains(lowAttendanceQuery, tt.fragment); got != tt.want {
				t.Errorf("contains %q = %v, want %v", tt.fragment, got, tt.want)
			}
		})
	}
}
