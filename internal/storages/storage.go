package storages

import (
	"errors"
	"fmt"

	"github.com/valutatrade/valutatrade-hub/internal/portfolio"
)

// Storage is the durable record of users and their portfolios. Portfolio
// access is read-modify-write: callers load a portfolio, mutate the copy and
// save it back whole; implementations never apply partial updates.
type Storage interface {
	CreateUser(username, passwordHash string) (User, error)
	GetUser(username string) (User, error)
	Portfolio(userID int) (*portfolio.Portfolio, error)
	SavePortfolio(p *portfolio.Portfolio) error
}

type User struct {
	ID           int    `json:"user_id"`
	Username     string `json:"username"`
	PasswordHash string `json:"hashed_password"`
}

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

// PersistenceError wraps an I/O failure of the durable store. Callers must
// treat the wrapped operation's effect as unconfirmed, not as definitely
// rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
