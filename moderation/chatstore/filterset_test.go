package chatstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterSetOrderAndFolding(t *testing.T) {
	assert := assert.New(t)

	fs := NewFilterSet()
	assert.Equal("spam", fs.Put("SPAM", FilterSpec{Warn: false}))
	fs.Put("Scam", FilterSpec{Warn: true})
	fs.Put("link", FilterSpec{})

	// re-adding keeps position, updates spec
	fs.Put("spam", FilterSpec{Warn: true})

	assert.Equal([]FilterEntry{
		{Word: "spam", Spec: FilterSpec{Warn: true}},
		{Word: "scam", Spec: FilterSpec{Warn: true}},
		{Word: "link", Spec: FilterSpec{}},
	}, fs.Entries())

	spec, ok := fs.Get("ScAm")
	assert.True(ok)
	assert.True(spec.Warn)

	assert.True(fs.Remove("SCAM"))
	assert.False(fs.Remove("scam"))
	assert.Equal(2, fs.Len())

	// index is still consistent after removal from the middle
	spec, ok = fs.Get("link")
	assert.True(ok)
	assert.False(spec.Warn)
	fs.Put("link", FilterSpec{Warn: true})
	assert.Equal([]FilterEntry{
		{Word: "spam", Spec: FilterSpec{Warn: true}},
		{Word: "link", Spec: FilterSpec{Warn: true}},
	}, fs.Entries())
}

func TestFilterSetJSONKeepsOrder(t *testing.T) {
	assert := assert.New(t)

	fs := NewFilterSet()
	fs.Put("zeta", FilterSpec{Warn: true})
	fs.Put("alpha", FilterSpec{})
	fs.Put("mid", FilterSpec{Warn: true})

	raw, err := json.Marshal(fs)
	assert.NoError(err)
	assert.Equal(`{"zeta":{"warn":true},"alpha":{"warn":false},"mid":{"warn":true}}`, string(raw))

	var out FilterSet
	assert.NoError(json.Unmarshal(raw, &out))
	assert.Equal(fs.Entries(), out.Entries())

	var empty FilterSet
	assert.NoError(json.Unmarshal([]byte(`{}`), &empty))
	assert.Equal(0, empty.Len())
	raw, err = json.Marshal(&empty)
	assert.NoError(err)
	assert.Equal(`{}`, string(raw))
}
