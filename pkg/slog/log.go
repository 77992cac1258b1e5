// Package slog is a simple leveled logger that prints level tags in color
// and appends the code location of the log call site to each line.
//
// The log level is set process-wide with SetLogLevel or via the SEINE_LOG
// environment variable (off/fatal/error/warn/info/debug/trace).
package slog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gookit/color"
	"go.uber.org/atomic"
)

const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

func init() {
	switch strings.ToUpper(os.Getenv("SEINE_LOG")) {
	case "FATAL":
		SetLogLevel(Fatal)
	case "ERROR":
		SetLogLevel(Error)
	case "WARN":
		SetLogLevel(Warn)
	case "INFO":
		SetLogLevel(Info)
	case "1", "TRUE", "ON", "DEBUG":
		SetLogLevel(Debug)
	case "TRACE":
		SetLogLevel(Trace)
	case "0", "OFF", "FALSE":
		SetLogLevel(Off)
	default:
		SetLogLevel(Info)
	}
}

type (
	// Ln prints lists of interfaces with spaces in between.
	Ln func(a ...interface{})
	// F prints like fmt.Printf surrounded by log details.
	F func(format string, a ...interface{})
	// S prints a spew.Sdump for an interface slice.
	S func(a ...interface{})
	// C accepts a closure so the formatting computation can be avoided if
	// the level is not being printed.
	C func(closure func() string)
	// Chk prints if there is an error and returns true if it was non-nil.
	Chk func(e error) bool
	// Err constructs an error with fmt.Errorf, prints it, and returns it.
	Err func(format string, a ...interface{}) error

	// LevelPrinter is the set of printing primitives available at each
	// log level.
	LevelPrinter struct {
		Ln
		F
		S
		C
		Chk
		Err
	}

	LevelSpec struct {
		ID        int
		Name      string
		Colorizer func(a ...interface{}) string
	}
)

var (
	currentLevel = atomic.NewInt32(Info)

	// LevelSpecs specifies the id, string name and color-printing function
	// for each log level.
	LevelSpecs = []LevelSpec{
		{Off, "   ", color.Bit24(0, 0, 0, false).Sprint},
		{Fatal, "FTL", color.Bit24(128, 0, 0, false).Sprint},
		{Error, "ERR", color.Bit24(255, 0, 0, false).Sprint},
		{Warn, "WRN", color.Bit24(255, 160, 0, false).Sprint},
		{Info, "INF", color.Bit24(255, 255, 0, false).Sprint},
		{Debug, "DBG", color.Bit24(0, 125, 255, false).Sprint},
		{Trace, "TRC", color.Bit24(125, 0, 255, false).Sprint},
	}
)

// Log is a set of log printers for the various levels.
type Log struct {
	F, E, W, I, D, T LevelPrinter
}

// Check is the set of Chk printers from a Log, for the
// `if chk.E(err) { ... }` idiom.
type Check struct {
	F, E, W, I, D, T Chk
}

func SetLogLevel(l int) {
	currentLevel.Store(int32(l))
}

func GetLogLevel() (l int) {
	return int(currentLevel.Load())
}

// New returns a Log and Check pair writing to the given writer.
func New(writer io.Writer) (l *Log, c *Check) {
	l = &Log{
		F: getPrinter(Fatal, writer),
		E: getPrinter(Error, writer),
		W: getPrinter(Warn, writer),
		I: getPrinter(Info, writer),
		D: getPrinter(Debug, writer),
		T: getPrinter(Trace, writer),
	}
	c = &Check{
		F: l.F.Chk,
		E: l.E.Chk,
		W: l.W.Chk,
		I: l.I.Chk,
		D: l.D.Chk,
		T: l.T.Chk,
	}
	return
}

// GetStd returns a logger writing to stderr.
func GetStd() (l *Log) {
	l, _ = New(os.Stderr)
	return
}

func joinStrings(a ...any) (s string) {
	for i := range a {
		s += fmt.Sprint(a[i])
		if i < len(a)-1 {
			s += " "
		}
	}
	return
}

func printing(l int32) bool { return currentLevel.Load() >= l }

func getPrinter(l int32, writer io.Writer) LevelPrinter {
	tag := func() string { return LevelSpecs[l].Colorizer(LevelSpecs[l].Name) }
	return LevelPrinter{
		Ln: func(a ...interface{}) {
			if !printing(l) {
				return
			}
			fmt.Fprintf(writer, "%s %s %s %s\n",
				timeStamp(), tag(), joinStrings(a...), GetLoc(2))
		},
		F: func(format string, a ...interface{}) {
			if !printing(l) {
				return
			}
			fmt.Fprintf(writer, "%s %s %s %s\n",
				timeStamp(), tag(), fmt.Sprintf(format, a...), GetLoc(2))
		},
		S: func(a ...interface{}) {
			if !printing(l) {
				return
			}
			fmt.Fprintf(writer, "%s %s\n%s%s\n",
				timeStamp(), tag(), spew.Sdump(a...), GetLoc(2))
		},
		C: func(closure func() string) {
			if !printing(l) {
				return
			}
			fmt.Fprintf(writer, "%s %s %s %s\n",
				timeStamp(), tag(), closure(), GetLoc(2))
		},
		Chk: func(e error) bool {
			if e == nil {
				return false
			}
			if printing(l) {
				fmt.Fprintf(writer, "%s %s %s %s\n",
					timeStamp(), tag(), e.Error(), GetLoc(2))
			}
			return true
		},
		Err: func(format string, a ...interface{}) error {
			if printing(l) {
				fmt.Fprintf(writer, "%s %s %s %s\n",
					timeStamp(), tag(), fmt.Sprintf(format, a...), GetLoc(2))
			}
			return fmt.Errorf(format, a...)
		},
	}
}

func timeStamp() string {
	return time.Now().Format("15:04:05.000000")
}

// GetLoc returns the file:line of the caller at the given stack depth.
func GetLoc(skip int) (output string) {
	_, file, line, _ := runtime.Caller(skip)
	output = color.Bit24(0, 128, 255, false).Sprint(file, ":", line)
	return
}
