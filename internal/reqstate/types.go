// Package reqstate implements the PUT and GET request state machines:
// pure transitions from (state, event) to state', with DHT calls as the
// only side effect a transition performs.
package reqstate

// FindResult is the outcome of looking up a user-index record: either it
// existed (carrying its decoded fully-qualified keys) or it didn't.
type FindResult struct {
	Found bool
	Keys  []string
}

func Found(keys []string) FindResult {
	return FindResult{Found: true, Keys: keys}
}

func NotFound() FindResult {
	return FindResult{Found: false}
}

func containsKey(keys []string, target string) bool {
	for _, k := range keys {
		if k == target {
			return true
		}
	}
	return false
}
