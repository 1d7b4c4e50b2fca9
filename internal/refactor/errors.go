package refactor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
)

var (
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// SymbolNotFoundError reports an FQN that is neither defined nor used in
// the index. Suggestions holds similar known FQNs, best first.
type SymbolNotFoundError struct {
	FQN         string
	Suggestions []string
}

func (e *SymbolNotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("symbol not found: %s", e.FQN)
	}
	return fmt.Sprintf("symbol not found: %s (did you mean %s?)", e.FQN, strings.Join(e.Suggestions, ", "))
}

func (e *SymbolNotFoundError) Unwrap() error { return ErrSymbolNotFound }

// InvalidArgumentError reports an operation that cannot be applied to the
// workspace as it stands.
type InvalidArgumentError struct {
	Op     Operation
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

const (
	maxSuggestions  = 3
	minSuggestScore = 0.85
)

// suggest ranks candidates by Jaro-Winkler similarity to fqn.
func suggest(fqn string, candidates []string) []string {
	type scored struct {
		name  string
		score float32
	}
	seen := make(map[string]bool)
	var hits []scored
	for _, c := range candidates {
		if c == "" || c == fqn || seen[c] {
			continue
		}
		seen[c] = true
		score, err := edlib.StringsSimilarity(fqn, c, edlib.JaroWinkler)
		if err != nil || score < minSuggestScore {
			continue
		}
		hits = append(hits, scored{c, score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].name < hits[j].name
	})
	var out []string
	for i := 0; i < len(hits) && i < maxSuggestions; i++ {
		out = append(out, hits[i].name)
	}
	return out
}
