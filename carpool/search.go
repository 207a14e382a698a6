package carpool

import (
	"context"
	"strings"

	log "carpool/cloudlog"
	"carpool/model"
	"carpool/schema"
	"carpool/tree"
)

// Search finds users whose name matches query: every whitespace separated query token must be
// a case-insensitive substring of some token of the name. The current user is never returned.
//
// It scans every user record, which does not scale past small deployments.
//
// Starting a search for a different query cancels the one in flight, which then returns
// ErrSearchSuperseded instead of its results.
func (a *API) Search(ctx context.Context, query string) ([]model.User, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, ErrEmptySearch
	}
	normalized := strings.Join(terms, " ")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gen, call := a.beginSearch(normalized, cancel)
	defer a.endSearch(call)

	s, err := a.EnsureSession(ctx)
	if err != nil {
		return nil, a.searchResult(gen, err)
	}
	n, err := a.store.Get(ctx, tree.P(schema.Users))
	if err != nil {
		return nil, a.searchResult(gen, err)
	}
	nodes, err := n.Children()
	if err != nil {
		return nil, a.searchResult(gen, err)
	}
	users := []model.User{}
	for _, node := range nodes {
		if node.Key == s.UID {
			continue
		}
		name, _ := node.Child(schema.NameKey).Value.(string)
		if !matches(name, terms) {
			continue
		}
		u, err := decodeUser(node)
		if err != nil {
			log.Printf("search skipping user %s: %v", node.Key, err)
			continue
		}
		users = append(users, u)
	}
	model.SortUsers(users)
	if err := a.searchResult(gen, nil); err != nil {
		return nil, err
	}
	return users, nil
}

func matches(name string, terms []string) bool {
	tokens := strings.Fields(strings.ToLower(name))
	for _, term := range terms {
		found := false
		for _, token := range tokens {
			if strings.Contains(token, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// beginSearch registers a search for query and returns its generation and call id. A different
// query supersedes and cancels every search in flight; searches for the same query share a
// generation.
func (a *API) beginSearch(query string, cancel context.CancelFunc) (gen, call uint64) {
	a.searchMu.Lock()
	defer a.searchMu.Unlock()
	if query != a.searchQuery {
		for id, stop := range a.searchCancels {
			stop()
			delete(a.searchCancels, id)
		}
		a.searchGen++
		a.searchQuery = query
	}
	if a.searchCancels == nil {
		a.searchCancels = map[uint64]context.CancelFunc{}
	}
	a.searchSeq++
	a.searchCancels[a.searchSeq] = cancel
	return a.searchGen, a.searchSeq
}

// endSearch forgets a finished search.
func (a *API) endSearch(call uint64) {
	a.searchMu.Lock()
	defer a.searchMu.Unlock()
	delete(a.searchCancels, call)
}

// searchResult reports ErrSearchSuperseded in place of err once a later search has started.
func (a *API) searchResult(gen uint64, err error) error {
	a.searchMu.Lock()
	defer a.searchMu.Unlock()
	if gen != a.searchGen {
		return ErrSearchSuperseded
	}
	return err
}
