// Package export names and serves CSV downloads of run results.
package export

import (
	"fmt"
	"time"
)

const ContentType = "text/csv"

// Filename returns the download name for a CSV produced at now.
func Filename(now time.Time) string {
	return fmt.Sprintf("table_export_%d.csv", now.UnixMilli())
}

// Disposition returns a Content-Disposition header value for name.
func Disposition(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
