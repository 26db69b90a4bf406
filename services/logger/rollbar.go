package logsvc

import (
	"fmt"
	"log"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/presensi/core"
)

type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

type entry struct {
	err      error
	operator *core.Operator
	extras   map[string]interface{}
	keys     []string // extras in insertion order, for the std echo
}

// parse splits args into an error, the logged in Operator, and extras.
// expected fmt: error | map[string]interface{} | core.Operator | key, value pairs
func parse(args []interface{}) entry {
	e := entry{extras: make(map[string]interface{})}
	set := func(k string, v interface{}) {
		if _, ok := e.extras[k]; !ok {
			e.keys = append(e.keys, k)
		}
		e.extras[k] = v
	}

	for i := 0; i < len(args); i++ {
		switch arg := args[i].(type) {
		case core.Operator:
			if e.operator == nil { // only set one Operator
				op := arg
				e.operator = &op
			}
		case *core.Operator:
			if e.operator == nil && arg != nil {
				e.operator = arg
			}
		case error:
			if e.err == nil {
				e.err = arg
			} else {
				set(fmt.Sprintf("error%d", i), arg.Error())
			}
		case map[string]interface{}:
			for k, v := range arg {
				set(k, v)
			}
		case string:
			if i+1 < len(args) {
				v := args[i+1]
				if err, ok := v.(error); ok {
					v = err.Error()
				}
				set(arg, v)
				i++
			} else {
				set(fmt.Sprintf("arg%d", i), arg)
			}
		default:
			set(fmt.Sprintf("arg%d", i), arg)
		}
	}
	return e
}

func (l RollbarLogger) prepare(msg string, e entry) []interface{} {
	if e.operator != nil {
		rollbar.SetPerson(e.operator.ID, e.operator.Username, "")
	} else {
		rollbar.ClearPerson()
	}

	newArgs := make([]interface{}, 0, 3)
	if e.err != nil {
		newArgs = append(newArgs, e.err)
	}
	newArgs = append(newArgs, msg)
	if len(e.extras) > 0 {
		newArgs = append(newArgs, e.extras)
	}
	return newArgs
}

func (l RollbarLogger) print(level, msg string, e entry) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, k := range e.keys {
		fmt.Fprintf(&b, " %s=%v", k, e.extras[k])
	}
	if e.operator != nil {
		fmt.Fprintf(&b, " operator=%s", e.operator.Username)
	}
	if e.err != nil {
		fmt.Fprintf(&b, " error=%q", e.err.Error())
	}
	l.std.Println(b.String())
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	e := parse(args)
	rollbar.Debug(l.prepare(msg, e)...)
	l.print("DEBUG", msg, e)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	e := parse(args)
	rollbar.Info(l.prepare(msg, e)...)
	l.print("INFO", msg, e)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	e := parse(args)
	rollbar.Warning(l.prepare(msg, e)...)
	l.print("WARN", msg, e)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	e := parse(args)
	rollbar.Error(l.prepare(msg, e)...)
	l.print("ERROR", msg, e)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	e := parse(args)
	rollbar.Critical(l.prepare(msg, e)...)
	l.print("FATAL", msg, e)
	rollbar.Wait()
	l.std.Fatal(msg)
}
