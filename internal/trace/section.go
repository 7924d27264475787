// Package trace emits collapsible log section markers for the orchestrator's
// log viewer. The markers are cosmetic: they wrap long-running phases
// (VM provisioning, script execution) so the viewer can fold them. The byte
// format is fixed by the log viewer and must not be altered.
package trace

import (
	"fmt"
	"io"
	"time"
)

// now is overridable in tests.
var now = time.Now

// Start writes a section start marker for name.
func Start(w io.Writer, name string) {
	fmt.Fprintf(w, "\x1b[0Ksection_start:%d:%s\r\x1b[0K", now().Unix(), name)
}

// End writes a section end marker for name. Every Start should be paired
// with an End for the same name, even on the failure path.
func End(w io.Writer, name string) {
	fmt.Fprintf(w, "\x1b[0Ksection_end:%d:%s\r\x1b[0K", now().Unix(), name)
}
