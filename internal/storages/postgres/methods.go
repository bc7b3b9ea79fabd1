package postgres

import (
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/valutatrade/valutatrade-hub/internal/portfolio"
	"github.com/valutatrade/valutatrade-hub/internal/storages"
)

// Storage implements storages.Storage on top of two tables:
//
//	users   (id serial primary key, username text unique, password_hash text, created_at timestamptz)
//	wallets (user_id int, currency_code text, balance double precision, primary key (user_id, currency_code))
//
// SavePortfolio replaces the user's wallet rows in one transaction, keeping
// the same no-partial-update semantics as the JSON store.
type Storage struct {
	db *sql.DB
}

func (s *Storage) CreateUser(username, passwordHash string) (storages.User, error) {
	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE username = $1", username).Scan(&exists)
	if err != nil {
		logrus.WithError(err).Error("failed to check user existence")
		return storages.User{}, &storages.PersistenceError{Op: "check user", Err: err}
	}
	if exists > 0 {
		logrus.WithField("username", username).Error("username already exists")
		return storages.User{}, storages.ErrUserExists
	}

	var id int
	err = s.db.QueryRow(`
        INSERT INTO users (username, password_hash, created_at)
        VALUES ($1, $2, NOW())
        RETURNING id`,
		username, passwordHash).Scan(&id)
	if err != nil {
		logrus.WithField("username", username).WithError(err).Error("failed to register user")
		return storages.User{}, &storages.PersistenceError{Op: "insert user", Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"username": username,
		"user_id":  id,
	}).Info("user registered in database")
	return storages.User{ID: id, Username: username, PasswordHash: passwordHash}, nil
}

func (s *Storage) GetUser(username string) (storages.User, error) {
	var user storages.User
	err := s.db.QueryRow(`
        SELECT id, username, password_hash
        FROM users
        WHERE username = $1`,
		username).Scan(&user.ID, &user.Username, &user.PasswordHash)
	if err != nil {
		if err == sql.ErrNoRows {
			logrus.WithField("username", username).Error("user not found")
			return storages.User{}, storages.ErrUserNotFound
		}
		logrus.WithField("username", username).WithError(err).Error("failed to get user")
		return storages.User{}, &storages.PersistenceError{Op: "get user", Err: err}
	}
	return user, nil
}

func (s *Storage) Portfolio(userID int) (*portfolio.Portfolio, error) {
	rows, err := s.db.Query(`
        SELECT currency_code, balance
        FROM wallets
        WHERE user_id = $1`,
		userID)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Error("failed to query wallets")
		return nil, &storages.PersistenceError{Op: "load portfolio", Err: err}
	}
	defer rows.Close()

	p := portfolio.New(userID)
	for rows.Next() {
		var code string
		var balance float64
		if err := rows.Scan(&code, &balance); err != nil {
			logrus.WithField("user_id", userID).WithError(err).Error("failed to scan wallet row")
			return nil, &storages.PersistenceError{Op: "load portfolio", Err: err}
		}
		w := p.EnsureWallet(code)
		w.Balance = balance
	}
	if err := rows.Err(); err != nil {
		return nil, &storages.PersistenceError{Op: "load portfolio", Err: err}
	}
	return p, nil
}

func (s *Storage) SavePortfolio(p *portfolio.Portfolio) error {
	tx, err := s.db.Begin()
	if err != nil {
		logrus.WithError(err).Error("failed to begin transaction for portfolio save")
		return &storages.PersistenceError{Op: "save portfolio", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM wallets WHERE user_id = $1", p.UserID); err != nil {
		logrus.WithField("user_id", p.UserID).WithError(err).Error("failed to clear wallet rows")
		return &storages.PersistenceError{Op: "save portfolio", Err: err}
	}

	for _, code := range p.Codes() {
		w, _ := p.Wallet(code)
		if _, err := tx.Exec(`
            INSERT INTO wallets (user_id, currency_code, balance)
            VALUES ($1, $2, $3)`,
			p.UserID, w.CurrencyCode, w.Balance); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id":  p.UserID,
				"currency": w.CurrencyCode,
			}).WithError(err).Error("failed to insert wallet row")
			return &storages.PersistenceError{Op: "save portfolio", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		logrus.WithError(err).Error("failed to commit portfolio save")
		return &storages.PersistenceError{Op: "save portfolio", Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"user_id": p.UserID,
		"wallets": len(p.Wallets),
	}).Info("portfolio saved in database")
	return nil
}
