package mockserver

import (
	"sync"

	"github.com/kleeedolinux/notebookws/socket"
)

// Room groups the connections watching one note.
type Room struct {
	name  string
	conns map[string]*Conn
	mu    sync.RWMutex
}

func NewRoom(name string) *Room {
	return &Room{
		name:  name,
		conns: make(map[string]*Conn),
	}
}

func (r *Room) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

func (r *Room) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Room) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.conns[id]
	return exists
}

func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Room) Name() string {
	return r.name
}

// BroadcastParallel pushes to every member using at most workerLimit
// goroutines and returns once all pushes are queued.
func (r *Room) BroadcastParallel(op socket.Op, data any, workerLimit int) {
	r.mu.RLock()
	members := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		members = append(members, c)
	}
	r.mu.RUnlock()

	if len(members) == 0 {
		return
	}

	var wg sync.WaitGroup
	jobs := make(chan *Conn, len(members))

	for i := 0; i < min(len(members), workerLimit); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				c.Push(op, data)
			}
		}()
	}

	for _, c := range members {
		jobs <- c
	}
	close(jobs)

	wg.Wait()
}

type RoomManager struct {
	rooms map[string]*Room
	mu    sync.RWMutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
	}
}

func (rm *RoomManager) Room(name string) *Room {
	rm.mu.RLock()
	room, exists := rm.rooms[name]
	rm.mu.RUnlock()

	if !exists {
		rm.mu.Lock()
		if room, exists = rm.rooms[name]; !exists {
			room = NewRoom(name)
			rm.rooms[name] = room
		}
		rm.mu.Unlock()
	}

	return room
}

func (rm *RoomManager) Join(name string, c *Conn) {
	rm.Room(name).Add(c)
}

func (rm *RoomManager) LeaveAll(connID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for name, room := range rm.rooms {
		if room.Has(connID) {
			room.Remove(connID)
			if room.Count() == 0 {
				delete(rm.rooms, name)
			}
		}
	}
}

func (rm *RoomManager) Broadcast(name string, op socket.Op, data any) {
	rm.mu.RLock()
	room, exists := rm.rooms[name]
	rm.mu.RUnlock()

	if exists {
		room.BroadcastParallel(op, data, 10)
	}
}
