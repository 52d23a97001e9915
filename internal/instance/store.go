package instance

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/event"
	"github.com/Iron-Ham/cubic/internal/logging"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store is the index of instances under one root directory. It is safe for
// concurrent use; every read and mutation of the index holds mu.
type Store struct {
	mu      sync.RWMutex
	fs      afero.Fs
	root    string
	entries []Instance

	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBus publishes instance.created and instance.deleted on bus.
func WithBus(bus *event.Bus) Option {
	return func(s *Store) {
		s.bus = bus
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now for LastPlayed stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open loads the instances stored under root, creating root if it does not
// exist. Directories without a readable, valid descriptor are skipped.
func Open(fs afero.Fs, root string, opts ...Option) (*Store, error) {
	s := &Store{
		fs:     fs,
		root:   filepath.Clean(root),
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.fs.MkdirAll(s.root, dirPerm); err != nil {
		return nil, errors.NewStorageError("failed to create instances root", err).
			WithOp("mkdir").
			WithPath(s.root)
	}

	found, err := s.scan()
	if err != nil {
		return nil, err
	}
	s.entries = found

	s.logger.Info("instance store opened", "root", s.root, "instances", len(found))
	return s, nil
}

// Root returns the instances root directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory that holds the named instance. It is also the
// working directory the game is launched in.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.root, name)
}

// Get returns the named instance.
func (s *Store) Get(name string) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(name)
	if i < 0 {
		return Instance{}, false
	}
	return s.entries[i], true
}

// List returns all instances in index order.
func (s *Store) List() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Len returns the number of indexed instances.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Create persists a new instance. Invalid input and taken names return a
// *errors.ValidationError; a taken name also matches ErrDuplicateName.
// Filesystem failures return a *errors.StorageError and leave nothing behind.
func (s *Store) Create(name, version string) (Instance, error) {
	if err := ValidateName(name); err != nil {
		return Instance{}, err
	}
	if err := ValidateVersion(version); err != nil {
		return Instance{}, err
	}

	s.mu.Lock()

	if s.taken(name, -1) {
		s.mu.Unlock()
		return Instance{}, duplicate(name)
	}

	dir := s.Dir(name)
	if exists, _ := afero.Exists(s.fs, dir); exists {
		s.mu.Unlock()
		return Instance{}, duplicate(name)
	}

	inst := Instance{Name: name, Version: version}
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		s.mu.Unlock()
		return Instance{}, errors.NewStorageError("failed to create instance directory", err).
			WithOp("mkdir").
			WithPath(dir)
	}
	if err := s.writeDescriptor(dir, inst); err != nil {
		if rmErr := s.fs.RemoveAll(dir); rmErr != nil {
			s.logger.WithInstance(name).Warn("failed to roll back instance directory",
				"path", dir, "error", rmErr.Error())
		}
		s.mu.Unlock()
		return Instance{}, err
	}

	s.entries = append(s.entries, inst)
	s.mu.Unlock()

	s.logger.WithInstance(name).Info("instance created", "version", version)
	s.publish(event.NewInstanceCreated(name, version))
	return inst, nil
}

// Delete removes the instance directory, deepest entries first, and then
// the index entry. It returns false if the instance does not exist or the
// directory could not be removed.
func (s *Store) Delete(name string) bool {
	s.mu.Lock()

	i := s.indexOf(name)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	dir := s.Dir(name)
	if err := s.removeTree(dir); err != nil {
		s.mu.Unlock()
		s.logger.WithInstance(name).Error("failed to delete instance", "error", err.Error())
		return false
	}

	s.entries = slices.Delete(s.entries, i, i+1)
	s.mu.Unlock()

	s.logger.WithInstance(name).Info("instance deleted")
	s.publish(event.NewInstanceDeleted(name))
	return true
}

// Rename moves an instance to a new name, keeping its index position,
// version and LastPlayed. The error is non-nil only when newName is not a
// valid name. It returns false when oldName is missing, newName is taken or
// the filesystem refuses.
func (s *Store) Rename(oldName, newName string) (bool, error) {
	if err := ValidateName(newName); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(oldName)
	if i < 0 || oldName == newName || s.taken(newName, i) {
		return false, nil
	}

	log := s.logger.WithInstance(oldName)
	oldDir, newDir := s.Dir(oldName), s.Dir(newName)

	// A case-only rename resolves to the same directory on case-insensitive
	// filesystems, so only foreign directories count as conflicts.
	if !strings.EqualFold(oldName, newName) {
		if exists, _ := afero.Exists(s.fs, newDir); exists {
			log.Warn("rename target directory already exists", "path", newDir)
			return false, nil
		}
	}

	if err := s.fs.Rename(oldDir, newDir); err != nil {
		log.Error("failed to rename instance directory", "to", newName, "error", err.Error())
		return false, nil
	}

	renamed := s.entries[i]
	renamed.Name = newName
	if err := s.writeDescriptor(newDir, renamed); err != nil {
		log.Error("failed to rewrite descriptor after rename", "to", newName, "error", err.Error())
		if backErr := s.fs.Rename(newDir, oldDir); backErr != nil {
			log.Error("failed to restore instance directory", "error", backErr.Error())
		}
		return false, nil
	}

	s.entries[i] = renamed
	log.Info("instance renamed", "to", newName)
	return true, nil
}

// TouchLastPlayed stamps the instance with the current time at millisecond
// precision. The stamp is always later than the previous one and is written
// to disk before the index changes.
func (s *Store) TouchLastPlayed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(name)
	if i < 0 {
		return false
	}

	updated := s.entries[i]
	stamp := s.now().Truncate(time.Millisecond)
	if !stamp.After(updated.LastPlayed) {
		stamp = updated.LastPlayed.Add(time.Millisecond)
	}
	updated.LastPlayed = stamp

	if err := s.writeDescriptor(s.Dir(name), updated); err != nil {
		s.logger.WithInstance(name).Error("failed to persist last played", "error", err.Error())
		return false
	}

	s.entries[i] = updated
	return true
}

// Reload rescans the root. Instances still on disk keep their position,
// vanished ones are dropped, and new ones are appended in directory order.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.scan()
	if err != nil {
		return err
	}

	byName := make(map[string]Instance, len(found))
	for _, inst := range found {
		byName[inst.Name] = inst
	}

	next := make([]Instance, 0, len(found))
	for _, old := range s.entries {
		if inst, ok := byName[old.Name]; ok {
			next = append(next, inst)
			delete(byName, old.Name)
		}
	}
	for _, inst := range found {
		if _, ok := byName[inst.Name]; ok {
			next = append(next, inst)
		}
	}

	if len(next) != len(s.entries) {
		s.logger.Debug("instance index reloaded", "before", len(s.entries), "after", len(next))
	}
	s.entries = next
	return nil
}

// scan reads every instance directory under the root.
func (s *Store) scan() ([]Instance, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, errors.NewStorageError("failed to read instances root", err).
			WithOp("readdir").
			WithPath(s.root)
	}

	var found []Instance
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		name := info.Name()
		log := s.logger.WithInstance(name)

		data, err := afero.ReadFile(s.fs, filepath.Join(s.root, name, DescriptorFileName))
		if err != nil {
			log.Warn("skipping directory without readable descriptor", "error", err.Error())
			continue
		}
		inst, err := DecodeDescriptor(data)
		if err != nil {
			log.Warn("skipping instance with invalid descriptor", "error", err.Error())
			continue
		}
		if inst.Name != name {
			log.Warn("skipping instance whose descriptor names another directory",
				"descriptor_name", inst.Name)
			continue
		}
		if slices.ContainsFunc(found, func(f Instance) bool { return strings.EqualFold(f.Name, name) }) {
			log.Warn("skipping instance whose name differs from another only by case")
			continue
		}
		found = append(found, inst)
	}
	return found, nil
}

// indexOf returns the position of the exact name, or -1.
func (s *Store) indexOf(name string) int {
	return slices.IndexFunc(s.entries, func(inst Instance) bool { return inst.Name == name })
}

// taken reports whether name collides with any entry other than skip.
// Names are compared case-insensitively so that an index is portable to
// case-insensitive filesystems.
func (s *Store) taken(name string, skip int) bool {
	for i, inst := range s.entries {
		if i != skip && strings.EqualFold(inst.Name, name) {
			return true
		}
	}
	return false
}

// writeDescriptor replaces the descriptor in dir through a temp file and a
// rename, so readers never observe a partially written descriptor.
func (s *Store) writeDescriptor(dir string, inst Instance) error {
	path := filepath.Join(dir, DescriptorFileName)
	storageErr := func(msg, op string, err error) error {
		return errors.NewStorageError(msg, err).WithOp(op).WithPath(path)
	}

	data, err := EncodeDescriptor(inst)
	if err != nil {
		return storageErr("failed to encode descriptor", "encode", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".tmp-*")
	if err != nil {
		return storageErr("failed to create temp file", "create", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return storageErr("failed to write temp file", "write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return storageErr("failed to sync temp file", "sync", err)
	}
	if err := tmp.Close(); err != nil {
		return storageErr("failed to close temp file", "close", err)
	}
	if err := s.fs.Chmod(tmpPath, filePerm); err != nil {
		return storageErr("failed to set permissions", "chmod", err)
	}
	if err := s.fs.Rename(tmpPath, path); err != nil {
		return storageErr("failed to replace descriptor", "rename", err)
	}

	success = true
	return nil
}

// removeTree deletes everything under dir, children before parents.
func (s *Store) removeTree(dir string) error {
	var paths []string
	err := afero.Walk(s.fs, dir, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return errors.NewStorageError("failed to walk instance directory", err).
			WithOp("walk").
			WithPath(dir)
	}

	// Walk visits parents before children; reversing yields deepest first.
	slices.Reverse(paths)
	for _, path := range paths {
		if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.NewStorageError("failed to remove path", err).
				WithOp("remove").
				WithPath(path)
		}
	}
	return nil
}

func (s *Store) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func duplicate(name string) error {
	return errors.NewValidationError(fmt.Sprintf("instance %q already exists", name)).
		WithField("name").
		WithValue(name).
		WithCause(ErrDuplicateName)
}
