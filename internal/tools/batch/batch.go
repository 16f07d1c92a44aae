package batch

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// MaxItems bounds a single batch call.
const MaxItems = 100

// Result is the outcome for one id.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Summary aggregates the results of a batch.
type Summary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// ParseIDs accepts a single id or an array of ids. Duplicates are dropped
// while keeping the first occurrence.
func ParseIDs(param any, paramName string) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	var ids []string
	switch v := param.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		ids = []string{v}
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
			}
			if s == "" {
				return nil, fmt.Errorf("%s[%d] cannot be empty", paramName, i)
			}
			ids = append(ids, s)
		}
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		ids = append(ids, v...)
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
	}

	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) > MaxItems {
		return nil, fmt.Errorf("%s accepts at most %d ids, got %d", paramName, MaxItems, len(out))
	}
	return out, nil
}

// Process runs fn for each id in order. It stops early only when ctx is
// done; the remaining ids are reported as failed with the context error.
// errText renders failures; nil uses err.Error().
func Process(ctx context.Context, ids []string, fn func(ctx context.Context, id string) (string, error), errText func(error) string) []Result {
	if errText == nil {
		errText = func(err error) string { return err.Error() }
	}
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{ID: id, Status: StatusError, Error: err.Error()})
			continue
		}
		res, err := fn(ctx, id)
		if err != nil {
			results = append(results, Result{ID: id, Status: StatusError, Error: errText(err)})
			continue
		}
		results = append(results, Result{ID: id, Status: StatusSuccess, Result: res})
	}
	return results
}

// Summarize counts successes and failures.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// Format renders the summary as indented JSON.
func Format(results []Result) string {
	data, _ := json.MarshalIndent(Summarize(results), "", "  ")
	return string(data)
}
