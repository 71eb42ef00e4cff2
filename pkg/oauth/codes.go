package oauth

import (
	"sync"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/types"
)

// CodeStore holds pending authorization codes in memory. Codes are never
// persisted, so a restart invalidates them.
type CodeStore struct {
	lock  sync.Mutex
	codes map[string]types.AuthorizationCode
	now   func() time.Time
}

func NewCodeStore() *CodeStore {
	return &CodeStore{
		codes: make(map[string]types.AuthorizationCode),
		now:   time.Now,
	}
}

func (s *CodeStore) Save(code types.AuthorizationCode) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.codes[code.Code] = code
}

// Consume removes code and returns it if it had not expired. A code can be
// consumed at most once.
func (s *CodeStore) Consume(code string) (*types.AuthorizationCode, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec, ok := s.codes[code]
	if !ok {
		return nil, false
	}
	delete(s.codes, code)
	if s.now().After(rec.ExpiresAt) {
		return nil, false
	}
	return &rec, true
}

// PurgeExpired drops codes that expired before now.
func (s *CodeStore) PurgeExpired(now time.Time) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	removed := 0
	for code, rec := range s.codes {
		if now.After(rec.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending codes.
func (s *CodeStore) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.codes)
}
