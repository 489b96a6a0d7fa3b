package committer

// Committer decides when marked resume offsets are committed to the group.
type Committer interface {
	// RecordMarked notes that n resume offsets were marked since the last call.
	RecordMarked(n int)

	// TryCommit reports whether a commit is due. When it returns true the
	// caller owns the commit and must call UnlockCommit with its outcome.
	TryCommit() bool
	UnlockCommit(ok bool)
}
