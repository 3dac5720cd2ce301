package chat

import (
	"sort"
	"sync"
)

// LobbyName is the default room every session lands in. The Lobby lives for
// the whole server lifetime and is never deleted.
const LobbyName = "Lobby"

const maxUsernameLen = 32

// Usernames the protocol claims for itself.
var reservedNames = map[string]struct{}{
	"server": {},
	"all":    {},
	"root":   {},
	"me":     {},
}

// UserRegistry maps reserved usernames to their sessions. Reserve and
// Release are atomic with respect to each other: of any number of
// concurrent Reserve calls for one name, exactly one succeeds.
type UserRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewUserRegistry() *UserRegistry {
	return &UserRegistry{sessions: make(map[string]*Session)}
}

func (u *UserRegistry) Reserve(name string, s *Session) error {
	if name == "" || len(name) > maxUsernameLen {
		return ErrNameInvalid
	}
	if _, ok := reservedNames[name]; ok {
		return ErrNameReserved
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.sessions[name]; ok {
		return ErrNameTaken
	}
	u.sessions[name] = s
	return nil
}

func (u *UserRegistry) Release(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.sessions, name)
}

func (u *UserRegistry) Lookup(name string) *Session {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sessions[name]
}

func (u *UserRegistry) Count() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.sessions)
}

// RoomRegistry owns the room name → Room mapping. All membership moves go
// through it so a user belongs to exactly one room at any instant and an
// emptied room is deleted in the same critical section that emptied it.
// Lock order is always registry before room.
type RoomRegistry struct {
	users *UserRegistry

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRoomRegistry(users *UserRegistry) *RoomRegistry {
	lobby, _ := NewRoom(LobbyName, "Server", "", users) // no password, cannot fail
	rr := &RoomRegistry{
		users: users,
		rooms: map[string]*Room{LobbyName: lobby},
	}
	ActiveRooms.Set(1)
	return rr
}

func (rr *RoomRegistry) Lobby() *Room { return rr.Get(LobbyName) }

func (rr *RoomRegistry) Get(name string) *Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.rooms[name]
}

// Names returns a sorted snapshot of all room names.
func (rr *RoomRegistry) Names() []string {
	rr.mu.RLock()
	names := make([]string, 0, len(rr.rooms))
	for name := range rr.rooms {
		names = append(names, name)
	}
	rr.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (rr *RoomRegistry) Count() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms)
}

// Create inserts a new room and moves the creator into it. The creator
// leaves its previous room as part of the same critical section.
func (rr *RoomRegistry) Create(name, creator, password string) (*Room, error) {
	// Hash outside the lock; bcrypt is deliberately slow.
	room, err := NewRoom(name, creator, password, rr.users)
	if err != nil {
		return nil, err
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if _, ok := rr.rooms[name]; ok {
		return nil, ErrRoomExists
	}
	rr.rooms[name] = room
	rr.moveLocked(creator, room)
	ActiveRooms.Set(float64(len(rr.rooms)))
	return room, nil
}

// Join moves user into the named room after a password check. The password
// comparison runs outside the registry lock; the room is re-checked under
// the lock in case it was deleted in between.
func (rr *RoomRegistry) Join(name, user, password string) (*Room, error) {
	room := rr.Get(name)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if !room.CheckPassword(password) {
		return nil, ErrBadPassword
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if rr.rooms[name] != room {
		return nil, ErrRoomNotFound
	}
	rr.moveLocked(user, room)
	return room, nil
}

// Leave moves user from its current room back to the Lobby. It returns the
// room that was left, or nil if the user was already in the Lobby.
func (rr *RoomRegistry) Leave(user string) *Room {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	lobby := rr.rooms[LobbyName]
	left := rr.roomOfLocked(user)
	if left == nil || left == lobby {
		return nil
	}
	rr.removeLocked(user, left)
	lobby.AddMember(user)
	return left
}

// Drop removes a disconnecting user from whatever room it occupies and
// returns that room, or nil if the user was in none.
func (rr *RoomRegistry) Drop(user string) *Room {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	left := rr.roomOfLocked(user)
	if left == nil {
		return nil
	}
	rr.removeLocked(user, left)
	return left
}

// Delete removes a room by name. Deleting the Lobby is a no-op.
func (rr *RoomRegistry) Delete(name string) bool {
	if name == LobbyName {
		return false
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if _, ok := rr.rooms[name]; !ok {
		return false
	}
	delete(rr.rooms, name)
	ActiveRooms.Set(float64(len(rr.rooms)))
	return true
}

func (rr *RoomRegistry) roomOfLocked(user string) *Room {
	for _, room := range rr.rooms {
		if room.HasMember(user) {
			return room
		}
	}
	return nil
}

// moveLocked removes user from any room other than target, deleting a room
// it emptied, then adds it to target.
func (rr *RoomRegistry) moveLocked(user string, target *Room) {
	for name, room := range rr.rooms {
		if room == target || !room.HasMember(user) {
			continue
		}
		room.RemoveMember(user)
		if room.Len() == 0 && name != LobbyName {
			delete(rr.rooms, name)
			ActiveRooms.Set(float64(len(rr.rooms)))
		}
	}
	target.AddMember(user)
}

func (rr *RoomRegistry) removeLocked(user string, room *Room) {
	room.RemoveMember(user)
	if room.Len() == 0 && room.name != LobbyName {
		delete(rr.rooms, room.name)
		ActiveRooms.Set(float64(len(rr.rooms)))
	}
}
