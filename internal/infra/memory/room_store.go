package memory

import (
	"sync"

	"quiz-room-service/internal/app"
)

// RoomStore is the in-memory implementation of app.RoomRepository. It is the
// only resource shared across rooms, so it needs nothing beyond safe
// concurrent insert/lookup/delete on the code -> room map.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.Room),
	}
}

// Put registers the room under its code, refusing codes already in use.
func (s *RoomStore) Put(room *app.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.rooms[room.Code()]; taken {
		return false
	}
	s.rooms[room.Code()] = room
	return true
}

func (s *RoomStore) Get(code string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

func (s *RoomStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
}

// Len reports the number of active rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
