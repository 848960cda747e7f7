package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore() *Store {
	return NewStore(zap.NewNop())
}

func rangeAt(startLine, startChar, endLine, endChar int) *Range {
	return &Range{
		Start: Position{Line: startLine, Character: startChar},
		End:   Position{Line: endLine, Character: endChar},
	}
}

func TestOpenAndSnapshot(t *testing.T) {
	store := newTestStore()

	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "hello"))

	snap, ok := store.Snapshot("file:///a.ql")
	require.True(t, ok)
	assert.Equal(t, "hello", snap.Text.String())
	assert.Equal(t, int32(1), snap.Version)
	assert.Equal(t, "file:///a.ql", snap.URI)

	lang, ok := store.LanguageID("file:///a.ql")
	require.True(t, ok)
	assert.Equal(t, "quill", lang)
}

func TestOpenTwiceFails(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "x"))

	err := store.Open("file:///a.ql", "quill", 2, "y")
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	// The original buffer survives.
	snap, _ := store.Snapshot("file:///a.ql")
	assert.Equal(t, "x", snap.Text.String())
}

func TestChangeNotOpen(t *testing.T) {
	store := newTestStore()

	err := store.Change("file:///nope.ql", 2, nil)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestIncrementalChange(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "hello"))

	// Replace "hello" entirely with "world" via a range edit.
	require.NoError(t, store.Change("file:///a.ql", 2, []ContentChange{
		{Range: rangeAt(0, 0, 0, 5), Text: "world"},
	}))

	snap, _ := store.Snapshot("file:///a.ql")
	assert.Equal(t, "world", snap.Text.String())
	assert.Equal(t, int32(2), snap.Version)
}

func TestChangeAppliesEditsInOrder(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "abc"))

	// Each edit sees the text produced by the previous one.
	require.NoError(t, store.Change("file:///a.ql", 2, []ContentChange{
		{Range: rangeAt(0, 0, 0, 1), Text: "X"},  // Xbc
		{Range: rangeAt(0, 2, 0, 3), Text: "YZ"}, // XbYZ
		{Range: rangeAt(0, 0, 0, 0), Text: "!"},  // !XbYZ
	}))

	snap, _ := store.Snapshot("file:///a.ql")
	assert.Equal(t, "!XbYZ", snap.Text.String())
}

func TestChangeFullReplacementWithoutRange(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "old"))

	require.NoError(t, store.Change("file:///a.ql", 2, []ContentChange{
		{Text: "brand new"},
	}))

	snap, _ := store.Snapshot("file:///a.ql")
	assert.Equal(t, "brand new", snap.Text.String())
}

func TestChangeClampsOutOfBoundsRange(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "ab"))

	// Start past the end becomes an empty span at the end; the edit
	// appends instead of raising.
	require.NoError(t, store.Change("file:///a.ql", 2, []ContentChange{
		{Range: rangeAt(9, 9, 9, 9), Text: "!"},
	}))

	snap, _ := store.Snapshot("file:///a.ql")
	assert.Equal(t, "ab!", snap.Text.String())
}

func TestVersionIsPeerAuthority(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///a.ql", "quill", 5, "x"))

	// A lower version still replaces the stored one.
	require.NoError(t, store.Change("file:///a.ql", 3, []ContentChange{{Text: "y"}}))

	snap, _ := store.Snapshot("file:///a.ql")
	assert.Equal(t, int32(3), snap.Version)
}

func TestSaveWithAndWithoutText(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "buffer"))

	require.NoError(t, store.Save("file:///a.ql", nil))
	snap, _ := store.Snapshot("file:///a.ql")
	assert.Equal(t, "buffer", snap.Text.String())

	saved := "from disk"
	require.NoError(t, store.Save("file:///a.ql", &saved))
	snap, _ = store.Snapshot("file:///a.ql")
	assert.Equal(t, "from disk", snap.Text.String())
}

func TestCloseRemovesAndNotifies(t *testing.T) {
	store := newTestStore()
	var closed []string
	store.SetCloseListener(func(uri string) { closed = append(closed, uri) })
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "x"))

	store.Close("file:///a.ql")

	_, ok := store.Snapshot("file:///a.ql")
	assert.False(t, ok)
	assert.Equal(t, []string{"file:///a.ql"}, closed)

	// Closing again is tolerated and does not re-notify.
	store.Close("file:///a.ql")
	assert.Len(t, closed, 1)
}

func TestChangeEvents(t *testing.T) {
	store := newTestStore()
	var events []ChangeEvent
	store.SetChangeListener(func(e ChangeEvent) { events = append(events, e) })

	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "one"))
	require.NoError(t, store.Change("file:///a.ql", 2, []ContentChange{{Text: "two"}}))
	require.NoError(t, store.Save("file:///a.ql", nil))

	require.Len(t, events, 3)
	assert.Equal(t, "one", events[0].Text.String())
	assert.Equal(t, int32(2), events[1].Version)
	assert.Equal(t, "two", events[2].Text.String())
}

func TestDocumentsEnumeration(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///b.ql", "quill", 1, ""))
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, ""))

	assert.Equal(t, []string{"file:///a.ql", "file:///b.ql"}, store.Documents())
}

func TestURIsAreCaseSensitive(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///A.ql", "quill", 1, "upper"))
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "lower"))

	upper, _ := store.Snapshot("file:///A.ql")
	lower, _ := store.Snapshot("file:///a.ql")
	assert.Equal(t, "upper", upper.Text.String())
	assert.Equal(t, "lower", lower.Text.String())
}

func TestSnapshotImmutableUnderLaterEdits(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Open("file:///a.ql", "quill", 1, "before"))

	snap, _ := store.Snapshot("file:///a.ql")
	require.NoError(t, store.Change("file:///a.ql", 2, []ContentChange{{Text: "after"}}))

	assert.Equal(t, "before", snap.Text.String())
}
