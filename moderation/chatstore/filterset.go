package chatstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/cases"
)

type FilterSpec struct {
	// if true, a match also counts as a warning against the sender
	Warn bool `json:"warn"`
}

type FilterEntry struct {
	Word string
	Spec FilterSpec
}

// Mapping from trigger word to FilterSpec which remembers insertion order.
//
// Words are case-folded on insert. Iteration (and JSON encoding) follows insertion order, so that when several filters could match the same text the outcome is reproducible.
type FilterSet struct {
	entries []FilterEntry
	index   map[string]int
}

func NewFilterSet() *FilterSet {
	return &FilterSet{
		index: make(map[string]int),
	}
}

// Case-folds a trigger word (or message text) for comparison.
func FoldWord(s string) string {
	// cases.Caser is stateful, so a fresh one is needed per call
	return cases.Fold().String(s)
}

// Adds or updates a filter. Returns the folded word as stored. Re-adding an existing word keeps its original position.
func (fs *FilterSet) Put(word string, spec FilterSpec) string {
	w := FoldWord(word)
	if i, ok := fs.index[w]; ok {
		fs.entries[i].Spec = spec
		return w
	}
	fs.index[w] = len(fs.entries)
	fs.entries = append(fs.entries, FilterEntry{Word: w, Spec: spec})
	return w
}

// Removes a filter, returning false if it was not present.
func (fs *FilterSet) Remove(word string) bool {
	w := FoldWord(word)
	i, ok := fs.index[w]
	if !ok {
		return false
	}
	fs.entries = append(fs.entries[:i], fs.entries[i+1:]...)
	delete(fs.index, w)
	for j := i; j < len(fs.entries); j++ {
		fs.index[fs.entries[j].Word] = j
	}
	return true
}

func (fs *FilterSet) Get(word string) (FilterSpec, bool) {
	if fs == nil {
		return FilterSpec{}, false
	}
	i, ok := fs.index[FoldWord(word)]
	if !ok {
		return FilterSpec{}, false
	}
	return fs.entries[i].Spec, true
}

func (fs *FilterSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.entries)
}

// Entries in insertion order. The returned slice is a copy.
func (fs *FilterSet) Entries() []FilterEntry {
	if fs == nil {
		return nil
	}
	out := make([]FilterEntry, len(fs.entries))
	copy(out, fs.entries)
	return out
}

func (fs *FilterSet) Clone() *FilterSet {
	out := NewFilterSet()
	if fs == nil {
		return out
	}
	out.entries = make([]FilterEntry, len(fs.entries))
	copy(out.entries, fs.entries)
	for k, v := range fs.index {
		out.index[k] = v
	}
	return out
}

// Encodes as a JSON object, with keys in insertion order.
func (fs *FilterSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range fs.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Word)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Spec)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decodes a JSON object, keeping document key order as insertion order.
func (fs *FilterSet) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object for filters, got: %v", tok)
	}
	out := NewFilterSet()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		word, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected filter word, got: %v", tok)
		}
		var spec FilterSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("decoding filter %q: %w", word, err)
		}
		out.Put(word, spec)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*fs = *out
	return nil
}
