package memory

import (
	"context"

	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ContentRepository хранит версии контента в памяти.
type ContentRepository struct {
	store *Store
}

// Content возвращает репозиторий версий контента.
func (s *Store) Content() *ContentRepository {
	return &ContentRepository{store: s}
}

// Save присваивает следующий номер версии.
func (r *ContentRepository) Save(_ context.Context, v *catalog.Version) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	v.Version = int64(len(s.versions)) + 1
	c := *v
	s.versions = append(s.versions, &c)
	return nil
}

func (r *ContentRepository) Latest(_ context.Context) (*catalog.Version, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.versions) == 0 {
		return nil, shared.ErrNoActiveContent
	}
	c := *s.versions[len(s.versions)-1]
	return &c, nil
}

func (r *ContentRepository) FindByChecksum(_ context.Context, checksum string) (*catalog.Version, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.versions {
		if v.Checksum == checksum {
			c := *v
			return &c, nil
		}
	}
	return nil, shared.NewDomainError("catalog", "FindByChecksum", shared.ErrNotFound, "content version not found")
}

// History возвращает последние версии, новые первыми, без тела бандла.
func (r *ContentRepository) History(_ context.Context, limit int) ([]catalog.Version, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	out := make([]catalog.Version, 0, limit)
	for i := len(s.versions) - 1; i >= 0 && len(out) < limit; i-- {
		v := s.versions[i]
		out = append(out, catalog.Version{Version: v.Version, Checksum: v.Checksum, PublishedAt: v.PublishedAt})
	}
	return out, nil
}
