package journal

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
)

func TestRecoverEmptyJournal(t *testing.T) {
	assert := assert.New(t)
	fs := afero.NewMemMapFs()
	f, _ := fs.Create("journal")
	f.Close()
	r, _ := fs.Open("journal")
	orphans := Recover(r)
	assert.Empty(orphans, "empty journal should have no orphans")
}

func newJournal() (afero.Fs, Writer) {
	fs := afero.NewMemMapFs()
	f, _ := fs.Create("journal")
	return fs, New(f)
}

func recoverJournal(fs afero.Fs) []OrphanedMerge {
	f, _ := fs.Open("journal")
	return Recover(f)
}

func TestStartedThenCompletedIsNotOrphaned(t *testing.T) {
	assert := assert.New(t)
	fs, w := newJournal()
	assert.NoError(w.Start("merge-1", []string{"seg-a", "seg-b"}))
	assert.NoError(w.Complete("merge-1"))
	assert.NoError(w.Close())

	orphans := recoverJournal(fs)
	assert.Empty(orphans, "a completed merge should not be reported as orphaned")
}

func TestStartedWithoutCompleteIsOrphaned(t *testing.T) {
	assert := assert.New(t)
	fs, w := newJournal()
	assert.NoError(w.Start("merge-1", []string{"seg-a", "seg-b"}))
	assert.NoError(w.Close())

	orphans := recoverJournal(fs)
	assert.Equal([]OrphanedMerge{
		{MergeID: "merge-1", Paths: []string{"seg-a", "seg-b"}},
	}, orphans)
}

func TestOnlyIncompleteMergesAreReported(t *testing.T) {
	assert := assert.New(t)
	fs, w := newJournal()
	assert.NoError(w.Start("merge-1", []string{"seg-a"}))
	assert.NoError(w.Complete("merge-1"))
	assert.NoError(w.Start("merge-2", []string{"seg-b", "seg-c"}))
	assert.NoError(w.Close())

	orphans := recoverJournal(fs)
	assert.Equal([]OrphanedMerge{
		{MergeID: "merge-2", Paths: []string{"seg-b", "seg-c"}},
	}, orphans)
}

func TestRecoverAndCleanDeletesOrphanedPaths(t *testing.T) {
	assert := assert.New(t)
	fs, w := newJournal()
	assert.NoError(w.Start("merge-1", []string{"seg-a", "seg-b"}))
	assert.NoError(w.Close())

	var deleted []string
	orphans, err := RecoverAndClean(mustOpen(fs), func(path string) error {
		deleted = append(deleted, path)
		return nil
	})
	assert.NoError(err)
	assert.Len(orphans, 1)
	assert.Equal([]string{"seg-a", "seg-b"}, deleted)
}

func mustOpen(fs afero.Fs) afero.File {
	f, err := fs.Open("journal")
	if err != nil {
		panic(err)
	}
	return f
}
