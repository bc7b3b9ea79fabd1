package jsonfile

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/valutatrade/valutatrade-hub/internal/portfolio"
	"github.com/valutatrade/valutatrade-hub/internal/storages"
)

// Store keeps users and portfolios in two JSON documents under a data
// directory. Every access is whole-document read-modify-write serialized by
// one mutex, so concurrent callers within this process cannot lose updates.
// Concurrent writers from other processes are not protected against; the
// store assumes it is the only writer of its files.
type Store struct {
	mu             sync.Mutex
	usersPath      string
	portfoliosPath string
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, &storages.PersistenceError{Op: "init data dir", Err: err}
	}
	logrus.WithField("data_dir", dataDir).Info("json ledger store opened")
	return &Store{
		usersPath:      filepath.Join(dataDir, "users.json"),
		portfoliosPath: filepath.Join(dataDir, "portfolios.json"),
	}, nil
}

func (s *Store) CreateUser(username, passwordHash string) (storages.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []storages.User
	if err := s.load(s.usersPath, &users); err != nil {
		return storages.User{}, err
	}

	nextID := 1
	for _, u := range users {
		if u.Username == username {
			return storages.User{}, storages.ErrUserExists
		}
		if u.ID >= nextID {
			nextID = u.ID + 1
		}
	}

	user := storages.User{ID: nextID, Username: username, PasswordHash: passwordHash}
	users = append(users, user)
	if err := s.save(s.usersPath, users); err != nil {
		return storages.User{}, err
	}

	// A user's portfolio exists from registration, initially empty.
	var records []*portfolio.Portfolio
	if err := s.load(s.portfoliosPath, &records); err != nil {
		return storages.User{}, err
	}
	records = append(records, portfolio.New(user.ID))
	if err := s.save(s.portfoliosPath, records); err != nil {
		return storages.User{}, err
	}

	logrus.WithFields(logrus.Fields{
		"username": username,
		"user_id":  user.ID,
	}).Info("user stored")
	return user, nil
}

func (s *Store) GetUser(username string) (storages.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []storages.User
	if err := s.load(s.usersPath, &users); err != nil {
		return storages.User{}, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, nil
		}
	}
	return storages.User{}, storages.ErrUserNotFound
}

// Portfolio returns the stored portfolio for userID, or a fresh empty one
// when none is on record yet.
func (s *Store) Portfolio(userID int) (*portfolio.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*portfolio.Portfolio
	if err := s.load(s.portfoliosPath, &records); err != nil {
		return nil, err
	}
	for _, p := range records {
		if p.UserID == userID {
			if p.Wallets == nil {
				p.Wallets = make(map[string]*portfolio.Wallet)
			}
			return p, nil
		}
	}
	return portfolio.New(userID), nil
}

// SavePortfolio replaces the user's record in the whole collection and writes
// the collection back.
func (s *Store) SavePortfolio(p *portfolio.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*portfolio.Portfolio
	if err := s.load(s.portfoliosPath, &records); err != nil {
		return err
	}

	replaced := false
	for i, record := range records {
		if record.UserID == p.UserID {
			records[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, p)
	}

	if err := s.save(s.portfoliosPath, records); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"user_id": p.UserID,
		"wallets": len(p.Wallets),
	}).Debug("portfolio saved")
	return nil
}

// load decodes path into v. A missing file means an empty collection, not an
// error.
func (s *Store) load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		logrus.WithField("path", path).WithError(err).Error("failed to read store file")
		return &storages.PersistenceError{Op: "read " + filepath.Base(path), Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		logrus.WithField("path", path).WithError(err).Error("failed to decode store file")
		return &storages.PersistenceError{Op: "decode " + filepath.Base(path), Err: err}
	}
	return nil
}

// save writes the whole document through a temp file and rename, so a crash
// mid-write never leaves a truncated store behind.
func (s *Store) save(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &storages.PersistenceError{Op: "encode " + filepath.Base(path), Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logrus.WithField("path", path).WithError(err).Error("failed to write store file")
		return &storages.PersistenceError{Op: "write " + filepath.Base(path), Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		logrus.WithField("path", path).WithError(err).Error("failed to replace store file")
		return &storages.PersistenceError{Op: "replace " + filepath.Base(path), Err: err}
	}
	return nil
}
