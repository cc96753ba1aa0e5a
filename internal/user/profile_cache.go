package user

import (
	"context"
	"sync"
)

// ProfileCache resolves user ids to display names for "X is editing" banners,
// remembering answers so repeated lock events don't hit the database. Entries
// live for the process lifetime; a rename shows up after restart or Clear.
type ProfileCache struct {
	service Service

	mu    sync.Mutex
	names map[uint64]string
}

func NewProfileCache(service Service) *ProfileCache {
	return &ProfileCache{
		service: service,
		names:   make(map[uint64]string),
	}
}

func (p *ProfileCache) DisplayName(ctx context.Context, userID uint64) (string, error) {
	p.mu.Lock()
	if name, ok := p.names[userID]; ok {
		p.mu.Unlock()
		return name, nil
	}
	p.mu.Unlock()

	u, err := p.service.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.names[userID] = u.Name
	p.mu.Unlock()
	return u.Name, nil
}

func (p *ProfileCache) Clear() {
	p.mu.Lock()
	p.names = make(map[uint64]string)
	p.mu.Unlock()
}
