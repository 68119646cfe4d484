package identity

import (
	"context"
	"sync"
)

// Keeper caches the active credentials in memory on top of a Store. Its
// Token method is what the HTTP client reads before each request.
type Keeper struct {
	store Store

	mu    sync.RWMutex
	creds Credentials
}

func NewKeeper(store Store) *Keeper {
	return &Keeper{store: store}
}

// Restore loads previously saved credentials. It returns ErrNoSession when
// the user has to sign in.
func (k *Keeper) Restore(ctx context.Context) (Credentials, error) {
	creds, err := k.store.Load(ctx)
	if err != nil {
		return Credentials{}, err
	}
	k.mu.Lock()
	k.creds = creds
	k.mu.Unlock()
	return creds, nil
}

func (k *Keeper) SignIn(ctx context.Context, creds Credentials) error {
	k.mu.Lock()
	k.creds = creds
	k.mu.Unlock()
	return k.store.Save(ctx, creds)
}

// SignOut forgets the credentials locally and in the store.
func (k *Keeper) SignOut(ctx context.Context) error {
	k.mu.Lock()
	k.creds = Credentials{}
	k.mu.Unlock()
	return k.store.Clear(ctx)
}

func (k *Keeper) Token() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.creds.Token
}

func (k *Keeper) Current() (Credentials, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.creds, k.creds.Token != ""
}
