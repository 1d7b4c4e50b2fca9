package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/stitcher/internal/store"
)

// Index query builtins. Risor cannot see Go structs field by field, so
// results are flattened into maps of primitives on the Go side.

// symbols(prefix) → list of symbol maps whose FQN is prefix or beneath it.
func makeSymbolsFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("symbols", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("symbols", 1, len(args))
		}
		prefix, err := toString(args[0])
		if err != nil {
			return object.Errorf("symbols: %v", err)
		}
		syms, queryErr := s.SymbolsByFQNPrefix(prefix)
		if queryErr != nil {
			return object.Errorf("symbols: %v", queryErr)
		}
		return symbolsToList(syms)
	})
}

func makeSymbolsByKindFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("symbols_by_kind", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("symbols_by_kind", 1, len(args))
		}
		kind, err := toString(args[0])
		if err != nil {
			return object.Errorf("symbols_by_kind: %v", err)
		}

		syms, queryErr := s.SymbolsByKind(kind)
		if queryErr != nil {
			return object.Errorf("symbols_by_kind: %v", queryErr)
		}

		return symbolsToList(syms)
	})
}

// usages(fqn) → list of {path, line, col, end_line, end_col, kind, context, fqn}.
func makeUsagesFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("usages", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("usages", 1, len(args))
		}
		fqn, err := toString(args[0])
		if err != nil {
			return object.Errorf("usages: %v", err)
		}

		usages, queryErr := s.UsagesOf(fqn)
		if queryErr != nil {
			return object.Errorf("usages: %v", queryErr)
		}

		results := make([]object.Object, 0, len(usages))
		for _, u := range usages {
			results = append(results, object.NewMap(map[string]object.Object{
				"path":     object.NewString(u.Path),
				"line":     object.NewInt(int64(u.Lineno)),
				"col":      object.NewInt(int64(u.ColOffset)),
				"end_line": object.NewInt(int64(u.EndLineno)),
				"end_col":  object.NewInt(int64(u.EndColOffset)),
				"kind":     object.NewString(u.Kind),
				"context":  object.NewString(u.Context),
				"fqn":      object.NewString(u.ResolvedFQN),
			}))
		}
		return object.NewList(results)
	})
}

// files() → list of indexed workspace paths.
func makeFilesFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("files", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("files", 0, len(args))
		}
		files, queryErr := s.AllFiles()
		if queryErr != nil {
			return object.Errorf("files: %v", queryErr)
		}
		results := make([]object.Object, 0, len(files))
		for _, f := range files {
			results = append(results, object.NewString(f.Path))
		}
		return object.NewList(results)
	})
}

// makeDBQueryFn creates a db_query bridge that executes arbitrary read-only SQL.
// Returns a list of maps (column name → value).
func makeDBQueryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("db_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("db_query: expected at least 1 argument (sql), got %d", len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}

		// Only allow SELECT statements.
		trimmed := strings.TrimSpace(strings.ToUpper(sqlStr))
		if !strings.HasPrefix(trimmed, "SELECT") {
			return object.Errorf("db_query: only SELECT queries are allowed")
		}

		var queryArgs []any
		for _, arg := range args[1:] {
			switch v := arg.(type) {
			case *object.Int:
				queryArgs = append(queryArgs, v.Value())
			case *object.Float:
				queryArgs = append(queryArgs, v.Value())
			case *object.String:
				queryArgs = append(queryArgs, v.Value())
			case *object.Bool:
				queryArgs = append(queryArgs, v.Value())
			case *object.NilType:
				queryArgs = append(queryArgs, nil)
			default:
				queryArgs = append(queryArgs, fmt.Sprintf("%v", arg))
			}
		}

		rows, queryErr := s.DB().QueryContext(ctx, sqlStr, queryArgs...)
		if queryErr != nil {
			return object.Errorf("db_query: %v", queryErr)
		}
		defer rows.Close()

		cols, colErr := rows.Columns()
		if colErr != nil {
			return object.Errorf("db_query: columns: %v", colErr)
		}

		var results []object.Object
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return object.Errorf("db_query: scan: %v", err)
			}
			row := make(map[string]object.Object, len(cols))
			for i, col := range cols {
				row[col] = sqlValueToObject(values[i])
			}
			results = append(results, object.NewMap(row))
		}
		if err := rows.Err(); err != nil {
			return object.Errorf("db_query: rows: %v", err)
		}
		if results == nil {
			results = []object.Object{}
		}
		return object.NewList(results)
	})
}

// sqlValueToObject converts a database value to a Risor object.
func sqlValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	switch val := v.(type) {
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}

// symbolsToList converts symbols to a Risor list of maps.
func symbolsToList(syms []*store.Symbol) object.Object {
	results := make([]object.Object, 0, len(syms))
	for _, sym := range syms {
		results = append(results, object.NewMap(map[string]object.Object{
			"id":   object.NewString(sym.ID),
			"name": object.NewString(sym.Name),
			"kind": object.NewString(sym.Kind),
			"fqn":  object.NewString(sym.CanonicalFQN),
			"path": object.NewString(sym.LogicalPath),
			"line": object.NewInt(int64(sym.Lineno)),
		}))
	}
	return object.NewList(results)
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}
