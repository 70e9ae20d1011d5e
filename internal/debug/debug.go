package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (device identity, run summary)
	LevelLive    = 2 // Live info (frames retrieved, state changes)
	LevelVerbose = 3 // Verbose (reconciliation decisions, clamping)
	LevelTrace   = 4 // Trace (feature reads/writes, GPIO, very low level)
)

// Reporter is the injected diagnostic sink: a single function accepting
// (isError, file, line, function, message). Diagnostics are delivered
// synchronously at the point of occurrence, never buffered or batched.
type Reporter func(isError bool, file string, line int, function, message string)

var (
	mu       sync.Mutex
	level    int
	logger   *log.Logger
	reporter Reporter
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (device identity, run summary)
// 2 = live info (frames retrieved, start/stop)
// 3 = verbose (reconciliation details, clamping, trigger transitions)
// 4 = trace (individual feature reads/writes, GPIO)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[GrabGo] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput retargets the log sink (e.g. to mirror output to SSE clients).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		logger.SetOutput(w)
	}
}

// SetReporter installs the injected reporter. A nil reporter restores the
// default (reports are written through the leveled logger).
func SetReporter(r Reporter) {
	mu.Lock()
	defer mu.Unlock()
	reporter = r
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

func printf(prefix, format string, args ...interface{}) {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		l.Printf(prefix+format, args...)
	}
}

// --- Reporter entry points ---

// Reportf formats a message and delivers it to the installed reporter with
// the file, line and function of the caller. Errors always reach the
// reporter regardless of debug level; non-error reports additionally go
// through the leveled logger at LevelInfo.
func Reportf(isError bool, format string, args ...interface{}) {
	reportf(2, isError, format, args...)
}

func reportf(skip int, isError bool, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	file, line, function := caller(skip + 1)

	mu.Lock()
	r := reporter
	mu.Unlock()

	if r != nil {
		r(isError, file, line, function, msg)
		return
	}
	if isError {
		printf("[ERROR] ", "%s:%d %s: %s", file, line, function, msg)
	} else if level >= LevelInfo {
		printf("[INFO] ", "%s: %s", function, msg)
	}
}

func caller(skip int) (file string, line int, function string) {
	pc, f, l, ok := runtime.Caller(skip)
	if !ok {
		return "?", 0, "?"
	}
	function = "?"
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = filepath.Base(fn.Name())
	}
	return filepath.Base(f), l, function
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		printf("[INFO] ", format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo {
		printf("", "═══════════════════════════════════════")
		printf("", "  %s", title)
		printf("", "═══════════════════════════════════════")
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo {
		printf("[INFO] ", "  %s = %v", name, value)
	}
}

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo {
		printf("[ERROR] ", "%v", err)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive {
		printf("[LIVE] ", format, args...)
	}
}

// Frame prints a retrieved-frame line (level 2).
func Frame(id uint64, nbytes int) {
	if level >= LevelLive {
		printf("[LIVE] ", "Frame %d retrieved (%d bytes)", id, nbytes)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		printf("[VERBOSE] ", format, args...)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose {
		printf("", "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		printf("", "  %s", name)
		printf("", "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose {
		printf("[VERBOSE] ", "Step %d: %s", num, description)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose {
		printf("[VERBOSE] ", "%s: %+v", name, v)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace {
		printf("[TRACE] ", format, args...)
	}
}

// Feature prints a GenICam feature access (level 4).
func Feature(op, name string, value interface{}) {
	if level >= LevelTrace {
		printf("[FEATURE] ", "%s %s value=%v", op, name, value)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace {
		printf("[GPIO] ", "%s pin=%d value=%v", operation, pin, value)
	}
}
