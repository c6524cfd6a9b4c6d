// Package migrations holds the schema owned by herald: templates and the delivery log.
// Business tables (students, student_fees, student_attendance, ...) belong to the
// institute application and are only read here.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
