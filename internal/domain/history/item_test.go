package history

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeItemAcceptsWellFormedDocument(t *testing.T) {
	item, err := DecodeItem([]byte(`{"id":"t1","number":4,"ts":1625097600000,"task":"Fix bug","tokensIn":10,"tokensOut":5,"totalCost":0.25,"size":123456789012,"workspace":"/w1"}`))
	require.NoError(t, err)

	assert.Equal(t, HistoryItem{
		ID:        "t1",
		Number:    4,
		Ts:        1625097600000,
		Task:      "Fix bug",
		TokensIn:  10,
		TokensOut: 5,
		TotalCost: 0.25,
		Size:      123456789012,
		Workspace: "/w1",
	}, item)
}

func TestDecodeItemDefaultsWorkspaceAndNumber(t *testing.T) {
	item, err := DecodeItem([]byte(`{"id":"t1","ts":5,"task":"","workspace":""}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownWorkspace, item.Workspace)
	assert.Equal(t, 1, item.Number)
}

func TestDecodeItemRejectsBadShapes(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"id":`,
		"array":        `[1,2]`,
		"missing id":   `{"ts":1,"task":"x"}`,
		"empty id":     `{"id":" ","ts":1,"task":"x"}`,
		"missing ts":   `{"id":"a","task":"x"}`,
		"zero ts":      `{"id":"a","ts":0,"task":"x"}`,
		"string ts":    `{"id":"a","ts":"100","task":"x"}`,
		"missing task": `{"id":"a","ts":1}`,
		"numeric task": `{"id":"a","ts":1,"task":7}`,
		"numeric id":   `{"id":7,"ts":1,"task":"x"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeItem([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidItem), "expected ErrInvalidItem, got %v", err)
		})
	}
}

func TestDecodeItemsSkipsRejectedEntries(t *testing.T) {
	var rejected []int
	items, err := DecodeItems([]byte(`[{"id":"a","ts":1,"task":"x"},{"id":"b"},{"id":"c","ts":3,"task":"z"}]`), func(i int, _ error) {
		rejected = append(rejected, i)
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "c", items[1].ID)
	assert.Equal(t, []int{1}, rejected)
}

func TestValidateAndNormalize(t *testing.T) {
	assert.ErrorIs(t, HistoryItem{Ts: 1}.Validate(), ErrInvalidItem)
	assert.ErrorIs(t, HistoryItem{ID: "a"}.Validate(), ErrInvalidItem)
	assert.NoError(t, HistoryItem{ID: "a", Ts: 1}.Validate())

	assert.Equal(t, UnknownWorkspace, HistoryItem{ID: "a"}.Normalized().Workspace)
	assert.Equal(t, "/w", HistoryItem{ID: "a", Workspace: "/w"}.Normalized().Workspace)
}

func TestValidateIDRejectsPathEscapes(t *testing.T) {
	for _, id := range []string{"", " ", ".", "..", "../etc", "a/b", `a\b`} {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidItem, "id %q", id)
	}
	assert.NoError(t, ValidateID("1625097600000"))
	assert.NoError(t, ValidateID("task.v2"))
}

func TestNewerPrefersLargerTimestamp(t *testing.T) {
	older := HistoryItem{ID: "a", Ts: 1, Task: "old"}
	newer := HistoryItem{ID: "a", Ts: 2, Task: "new"}
	assert.Equal(t, "new", Newer(older, newer).Task)
	assert.Equal(t, "new", Newer(newer, older).Task)
	assert.Equal(t, "old", Newer(older, HistoryItem{ID: "a", Ts: 1, Task: "tie"}).Task)
}
