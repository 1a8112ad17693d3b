package directory

import (
	"fmt"

	"tetatet/internal/models"
	"tetatet/internal/storage"

	"github.com/c-pro/geche"
	"github.com/samber/lo"
)

type userStore interface {
	GetUser(id string) (storage.UserRecord, error)
	ListUsers() ([]storage.UserRecord, error)
}

// Directory resolves user ids to display metadata. Lookups are served from
// a read-through cache in front of the users bucket.
type Directory struct {
	store    userStore
	profiles geche.Geche[string, models.Profile]
}

func New(store userStore) *Directory {
	return &Directory{
		store:    store,
		profiles: geche.NewMapCache[string, models.Profile](),
	}
}

// Profile returns the public profile for the user, or ErrNotFound.
func (d *Directory) Profile(userID string) (models.Profile, error) {
	if p, err := d.profiles.Get(userID); err == nil {
		return p, nil
	}

	rec, err := d.store.GetUser(userID)
	if err != nil {
		return models.Profile{}, fmt.Errorf("profile lookup for %s: %w", userID, err)
	}

	p := models.Profile{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		AvatarURL:   rec.AvatarURL,
	}
	d.profiles.Set(userID, p)
	return p, nil
}

// Invalidate drops the cached profile, e.g. after a display name change.
func (d *Directory) Invalidate(userID string) {
	_ = d.profiles.Del(userID)
}

// Users returns all active users, for the contact list.
func (d *Directory) Users() ([]models.User, error) {
	recs, err := d.store.ListUsers()
	if err != nil {
		return nil, err
	}

	active := lo.Filter(recs, func(r storage.UserRecord, _ int) bool {
		return r.Status == models.UserStatusActive
	})
	return lo.Map(active, func(r storage.UserRecord, _ int) models.User {
		return r.User
	}), nil
}
