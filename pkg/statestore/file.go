package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

// ErrInvalidRoomID is returned when a room ID contains unsafe characters.
var ErrInvalidRoomID = errors.New("invalid room id: contains path separator or traversal sequence")

// validateRoomID checks that a room ID is safe to use as a path component.
func validateRoomID(roomID string) error {
	if roomID == "" {
		return errors.New("room id cannot be empty")
	}
	if strings.ContainsAny(roomID, `/\`) || strings.Contains(roomID, "..") {
		return ErrInvalidRoomID
	}
	return nil
}

// FileStore implements Store using one JSON file per room.
// Storage layout:
//
//	~/.agentroom/rooms/
//	  └── <room-id>.json
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a file-based snapshot store.
// If baseDir is empty, uses ~/.agentroom/rooms.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".agentroom", "rooms")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

// Save creates or replaces the snapshot for snap.RoomID.
func (f *FileStore) Save(ctx context.Context, snap *RoomSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if err := validateRoomID(snap.RoomID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := f.roomPath(snap.RoomID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

// Load retrieves the snapshot for a room.
func (f *FileStore) Load(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStoreClosed
	}
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.roomPath(roomID)) // #nosec G304 - room ID validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Locks == nil {
		snap.Locks = make(map[string]protocol.FileLock)
	}

	return &snap, nil
}

// Ping verifies the base directory is still accessible.
func (f *FileStore) Ping(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrStoreClosed
	}
	if _, err := os.Stat(f.baseDir); err != nil {
		return fmt.Errorf("stat base directory: %w", err)
	}
	return nil
}

// Delete removes a room's snapshot.
func (f *FileStore) Delete(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if err := validateRoomID(roomID); err != nil {
		return err
	}

	if err := os.Remove(f.roomPath(roomID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// ListRooms returns the IDs of all persisted rooms in sorted order.
func (f *FileStore) ListRooms(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	var rooms []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rooms = append(rooms, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(rooms)
	return rooms, nil
}

// Close marks the store closed. Subsequent operations fail with ErrStoreClosed.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FileStore) roomPath(roomID string) string {
	return filepath.Join(f.baseDir, roomID+".json")
}
