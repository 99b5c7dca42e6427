package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// QuestionID identifies a question. The exam service sends it either as a
// JSON number or as a numeric string; both decode to the same value.
type QuestionID int64

// UnmarshalJSON accepts 5 and "5".
func (id *QuestionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("question id %q: %w", data, err)
	}
	*id = QuestionID(n)
	return nil
}

// Question is one exam item. PromptHTML and option bodies are rendered verbatim.
type Question struct {
	ID         QuestionID        `json:"id"`
	PromptHTML string            `json:"pertanyaan"`
	Options    map[string]string `json:"opsi"`
}

// Option is a renderable answer choice.
type Option struct {
	Key  string `json:"key"`
	HTML string `json:"html"`
}

// VisibleOptions returns the options with a non-empty key and body, ordered by key.
func (q Question) VisibleOptions() []Option {
	opts := make([]Option, 0, len(q.Options))
	for k, v := range q.Options {
		if k == "" || v == "" {
			continue
		}
		opts = append(opts, Option{Key: k, HTML: v})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Key < opts[j].Key })
	return opts
}

// HasOption reports whether key is a visible option of q.
func (q Question) HasOption(key string) bool {
	if key == "" {
		return false
	}
	v, ok := q.Options[key]
	return ok && v != ""
}

// SortQuestions orders questions by ascending ID, in place.
func SortQuestions(qs []Question) {
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
}

// CloneQuestions deep-copies a question list.
func CloneQuestions(qs []Question) []Question {
	if qs == nil {
		return nil
	}
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = q
		if q.Options != nil {
			out[i].Options = make(map[string]string, len(q.Options))
			for k, v := range q.Options {
				out[i].Options[k] = v
			}
		}
	}
	return out
}
