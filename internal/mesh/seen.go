package mesh

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// seenSet is a size-bounded id set. The least recently added or tested
// ids are evicted first.
type seenSet struct {
	cache *lru.Cache[string, struct{}]
}

func newSeenSet(size int) (*seenSet, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen set: %w", err)
	}
	return &seenSet{cache: cache}, nil
}

func (s *seenSet) Contains(id string) bool {
	return s.cache.Contains(id)
}

func (s *seenSet) Add(id string) {
	s.cache.Add(id, struct{}{})
}

// Check adds id and reports whether it was already present.
func (s *seenSet) Check(id string) bool {
	if s.cache.Contains(id) {
		return true
	}
	s.cache.Add(id, struct{}{})
	return false
}

func (s *seenSet) Len() int {
	return s.cache.Len()
}
