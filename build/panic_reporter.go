package build

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var panicLog = logging.Logger("panic-reporter")

// PanicReportingPath is the name of the subdir created within the directory
// passed to GeneratePanicReport
var PanicReportingPath = "panic-reports"

// GeneratePanicReport writes a timestamped dump of the process state under
// dir for inspection after a worker panicked. stack is the trace captured at
// the panic site; when nil the current stack is used. label is included next
// to the timestamp. It returns the report directory.
func GeneratePanicReport(dir, label string, stack []byte) (string, error) {
	// make sure we always dump the latest logs on the way out
	defer panicLog.Sync() //nolint:errcheck

	reportPath := filepath.Join(dir, PanicReportingPath, generateReportName(label))
	panicLog.Warnf("generating panic report at %s", reportPath)

	if err := os.MkdirAll(reportPath, 0755); err != nil {
		return "", err
	}

	if stack == nil {
		stack = debug.Stack()
	}

	writeFile(filepath.Join(reportPath, "version"), []byte(UserVersion()+"\n"))
	writeFile(filepath.Join(reportPath, "stacktrace.dump"), stack)
	writeProfile("goroutine", filepath.Join(reportPath, "goroutines.pprof.gz"))
	writeProfile("heap", filepath.Join(reportPath, "heap.pprof.gz"))

	return reportPath, nil
}

func writeFile(file string, data []byte) {
	if err := os.WriteFile(file, data, 0644); err != nil {
		panicLog.Error(err.Error())
	}
}

func writeProfile(profileType string, file string) {
	p := pprof.Lookup(profileType)
	if p == nil {
		panicLog.Warnf("%s profile not available", profileType)
		return
	}
	f, err := os.Create(file)
	if err != nil {
		panicLog.Error(err.Error())
		return
	}
	defer f.Close() //nolint:errcheck

	if err := p.WriteTo(f, 0); err != nil {
		panicLog.Error(err.Error())
	}
}

func generateReportName(label string) string {
	label = strings.ReplaceAll(label, " ", "")
	return fmt.Sprintf("report_%s_%s", label, time.Now().Format("2006-01-02T150405.000"))
}
