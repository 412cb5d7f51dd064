package build

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratePanicReport(t *testing.T) {
	dir := t.TempDir()

	p, err := GeneratePanicReport(dir, "worker 3", []byte("goroutine 1 [running]:\n"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, PanicReportingPath), filepath.Dir(p))
	require.True(t, strings.HasPrefix(filepath.Base(p), "report_worker3_"))

	for _, f := range []string{"version", "stacktrace.dump", "goroutines.pprof.gz", "heap.pprof.gz"} {
		_, err := os.Stat(filepath.Join(p, f))
		require.NoError(t, err, f)
	}

	st, err := os.ReadFile(filepath.Join(p, "stacktrace.dump"))
	require.NoError(t, err)
	require.Equal(t, "goroutine 1 [running]:\n", string(st))

	v, err := os.ReadFile(filepath.Join(p, "version"))
	require.NoError(t, err)
	require.Equal(t, UserVersion()+"\n", string(v))
}
