package runtime

import (
	"context"
	"log/slog"

	"github.com/risor-io/risor/object"

	"github.com/jward/stitcher/internal/refactor"
)

// recorder accumulates the operations a script requests, in call order.
type recorder struct {
	spec refactor.MigrationSpec
}

// makeOpFn creates an operation builtin such as rename_symbol.
//
// rename_symbol(from, to) → nil
//
// Arguments are validated on the spot so a script fails at the offending
// line rather than at planning time.
func makeOpFn(rec *recorder, name string, ctor func(from, to string) refactor.Operation) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError(name, 2, len(args))
		}
		from, err := toString(args[0])
		if err != nil {
			return object.Errorf("%s: from: %v", name, err)
		}
		to, err := toString(args[1])
		if err != nil {
			return object.Errorf("%s: to: %v", name, err)
		}
		op := ctor(from, to)
		if err := op.Validate(); err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		rec.spec = append(rec.spec, op)
		return object.Nil
	})
}

// makePlannedFn creates "planned", which returns the operations recorded so
// far as a list of {"op", "from", "to"} maps.
func makePlannedFn(rec *recorder) *object.Builtin {
	return object.NewBuiltin("planned", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("planned", 0, len(args))
		}
		results := make([]object.Object, 0, len(rec.spec))
		for _, op := range rec.spec {
			results = append(results, object.NewMap(map[string]object.Object{
				"op":   object.NewString(string(op.Kind)),
				"from": object.NewString(op.From),
				"to":   object.NewString(op.To),
			}))
		}
		return object.NewList(results)
	})
}

// logObject provides log.Info/Warn/Error methods for scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info("script.log", "msg", msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn("script.log", "msg", msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error("script.log", "msg", msg)
}
