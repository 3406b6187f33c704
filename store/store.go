// Package store is the persistence boundary: rooms, threads, messages and
// usage counters behind a Store facade that delegates to a database Driver.
// Drivers guarantee read-your-writes within a single process but are not
// required to be strongly consistent across processes.
package store

import (
	"context"
)

// Driver is implemented by each database backend (sqlite, postgres, mysql).
type Driver interface {
	Ping(ctx context.Context) error
	Close() error

	CreateRoom(ctx context.Context, create *Room) (*Room, error)
	GetRoom(ctx context.Context, find *FindRoom) (*Room, error)
	ListRooms(ctx context.Context, find *FindRoom) ([]*Room, error)
	UpdateRoom(ctx context.Context, update *UpdateRoom) (*Room, error)
	DeleteRoom(ctx context.Context, uid string) error

	CreateThread(ctx context.Context, create *Thread) (*Thread, error)
	GetThread(ctx context.Context, find *FindThread) (*Thread, error)
	ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error)
	DeleteThread(ctx context.Context, uid string) error

	CreateMessage(ctx context.Context, create *CreateMessage) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	CountThreadMessages(ctx context.Context, threadID int32) (int32, error)

	GetUsageCount(ctx context.Context, scopeID, resource, windowKind string, windowStart int64) (int32, error)
	IncrementUsageCounter(ctx context.Context, scopeID, resource, windowKind string, windowStart int64) error
}

// Store is the facade consumed by handlers and plugins.
type Store struct {
	driver Driver
}

// New creates a Store over the given driver.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.driver.Ping(ctx) }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.driver.Close() }

// CreateRoom creates a new room.
func (s *Store) CreateRoom(ctx context.Context, create *Room) (*Room, error) {
	return s.driver.CreateRoom(ctx, create)
}

// GetRoom returns the first room matching the filter, or nil.
func (s *Store) GetRoom(ctx context.Context, find *FindRoom) (*Room, error) {
	return s.driver.GetRoom(ctx, find)
}

// ListRooms lists rooms matching the filter, newest activity first.
func (s *Store) ListRooms(ctx context.Context, find *FindRoom) ([]*Room, error) {
	return s.driver.ListRooms(ctx, find)
}

// UpdateRoom updates a room's mutable fields.
func (s *Store) UpdateRoom(ctx context.Context, update *UpdateRoom) (*Room, error) {
	return s.driver.UpdateRoom(ctx, update)
}

// DeleteRoom deletes a room and all its threads and messages (cascade).
func (s *Store) DeleteRoom(ctx context.Context, uid string) error {
	return s.driver.DeleteRoom(ctx, uid)
}

// CreateThread creates a new thread in a room.
func (s *Store) CreateThread(ctx context.Context, create *Thread) (*Thread, error) {
	return s.driver.CreateThread(ctx, create)
}

// GetThread returns the first thread matching the filter, or nil.
func (s *Store) GetThread(ctx context.Context, find *FindThread) (*Thread, error) {
	return s.driver.GetThread(ctx, find)
}

// ListThreads lists threads matching the filter.
func (s *Store) ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error) {
	return s.driver.ListThreads(ctx, find)
}

// DeleteThread deletes a thread and its messages (cascade).
func (s *Store) DeleteThread(ctx context.Context, uid string) error {
	return s.driver.DeleteThread(ctx, uid)
}

// CreateMessage persists a new message.
func (s *Store) CreateMessage(ctx context.Context, create *CreateMessage) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

// ListMessages returns messages for a thread, oldest first.
func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// CountThreadMessages returns the lifetime message count of a thread.
func (s *Store) CountThreadMessages(ctx context.Context, threadID int32) (int32, error) {
	return s.driver.CountThreadMessages(ctx, threadID)
}

// GetUsageCount reads the counter for one window bucket; missing rows read
// as zero.
func (s *Store) GetUsageCount(ctx context.Context, scopeID, resource, windowKind string, windowStart int64) (int32, error) {
	return s.driver.GetUsageCount(ctx, scopeID, resource, windowKind, windowStart)
}

// IncrementUsageCounter atomically upserts-and-increments the counter row
// for one window bucket.
func (s *Store) IncrementUsageCounter(ctx context.Context, scopeID, resource, windowKind string, windowStart int64) error {
	return s.driver.IncrementUsageCounter(ctx, scopeID, resource, windowKind, windowStart)
}
