package trainer

import (
	"log/slog"
	"runtime"
)

// systemDiagnostics captures the runtime environment for the fatal
// error log, so failed runs can be triaged from logs alone.
func systemDiagnostics() []any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return []any{
		slog.String("go_version", runtime.Version()),
		slog.String("os", runtime.GOOS),
		slog.String("arch", runtime.GOARCH),
		slog.Int("num_cpu", runtime.NumCPU()),
		slog.Int("num_goroutine", runtime.NumGoroutine()),
		slog.Uint64("heap_alloc_bytes", mem.HeapAlloc),
		slog.Uint64("sys_bytes", mem.Sys),
	}
}
