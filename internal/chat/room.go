package chat

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Room is a named broadcast domain. It tracks member usernames, never
// Session objects; delivery resolves names through the user registry so a
// connection is owned in exactly one place.
type Room struct {
	name         string
	creator      string
	passwordHash []byte // nil for an open room
	users        *UserRegistry

	mu      sync.RWMutex
	members map[string]struct{}
}

func NewRoom(name, creator, password string, users *UserRegistry) (*Room, error) {
	r := &Room{
		name:    name,
		creator: creator,
		users:   users,
		members: make(map[string]struct{}),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash room password: %w", err)
		}
		r.passwordHash = hash
	}
	return r, nil
}

func (r *Room) Name() string    { return r.name }
func (r *Room) Creator() string { return r.creator }

// CheckPassword reports whether token grants access. An open room requires
// an absent token; a protected room requires the exact password.
func (r *Room) CheckPassword(token string) bool {
	if r.passwordHash == nil {
		return token == ""
	}
	return bcrypt.CompareHashAndPassword(r.passwordHash, []byte(token)) == nil
}

func (r *Room) AddMember(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[name] = struct{}{}
}

// RemoveMember is a no-op for non-members.
func (r *Room) RemoveMember(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, name)
}

func (r *Room) HasMember(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[name]
	return ok
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns a sorted snapshot of the member usernames.
func (r *Room) Members() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Broadcast delivers line to every member except exclude. Membership is
// snapshotted under the lock and sends happen outside it, so concurrent
// joins and leaves cannot corrupt an in-flight broadcast; a member that
// vanished from the user registry in the meantime is simply skipped.
func (r *Room) Broadcast(line, exclude string) {
	for _, name := range r.Members() {
		if name == exclude {
			continue
		}
		if sess := r.users.Lookup(name); sess != nil {
			sess.deliver(line)
		}
	}
}
