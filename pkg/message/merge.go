package message

// MergeFunc collapses an older message into a newer one for the same key and
// returns the result. MergeFinalFunc resolves the oldest surviving message
// when no older history exists.
type (
	MergeFunc      func(key []byte, older, newer Message) (Message, error)
	MergeFinalFunc func(key []byte, oldest Message) (Message, error)
)

// DefaultMerge keeps newer unchanged. Under this policy an Update overwrites
// whatever it is merged onto.
func DefaultMerge(key []byte, older, newer Message) (Message, error) {
	return newer, nil
}

// DefaultMergeFinal leaves oldest unchanged.
func DefaultMergeFinal(key []byte, oldest Message) (Message, error) {
	return oldest, nil
}

// Apply merges older underneath acc. Only an Update accumulator consults
// merge; Insert and Delete shadow everything older.
func Apply(merge MergeFunc, key []byte, older, acc Message) (Message, error) {
	if acc.Kind != Update {
		return acc, nil
	}
	return merge(key, older, acc)
}

// Finish resolves acc once the bottom of the key's history is reached.
// mergeFinal runs only for an Update accumulator.
func Finish(mergeFinal MergeFinalFunc, key []byte, acc Message) (Message, error) {
	if acc.Kind != Update {
		return acc, nil
	}
	return mergeFinal(key, acc)
}
