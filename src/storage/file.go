package storage

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/q-controller/nea-supervisor/src/utils"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

// State is the on-disk record.
type State struct {
	Provisions string    `cbor:"provisions"`
	UpdatedAt  time.Time `cbor:"updated_at"`
}

// File stores the blob in a CBOR state file. A missing file reads as an
// empty blob.
type File struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.readState()
	if err != nil {
		return "", err
	}
	return state.Provisions, nil
}

// State returns the full record, including when it was last written.
func (f *File) State() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readState()
}

func (f *File) readState() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("reading provisions file: %w", err)
	}
	var state State
	if err := decMode.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing provisions file %s: %w", f.path, err)
	}
	return state, nil
}

// Write replaces the state file atomically: the record goes to a temporary
// file that is synced and renamed over the old one.
func (f *File) Write(provisions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := encMode.Marshal(State{Provisions: provisions, UpdatedAt: f.now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding provisions: %w", err)
	}
	return utils.WriteFileAtomic(f.path, data, 0600)
}
