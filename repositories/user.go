//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"webchat/errors"
)

type IUserRepository interface {
	CreateUser(name, hashedPassword string) error
	GetUserByName(name string) (User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

// User is the durable account record. The name is the primary key; the
// record is immutable after creation and never deleted by this engine.
type User struct {
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser persists the account in BadgerDB. The existence check and the
// write share one transaction, so two racing registrations of the same name
// cannot both succeed.
func (u UserRepository) CreateUser(name, hashedPassword string) error {
	record := User{
		Name:         name,
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKey(name))
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		}
		return txn.Set(key, data)
	})
	if err != nil && !goerrors.Is(err, errors.ErrUserAlreadyExists) {
		return fmt.Errorf("%w: %v", errors.ErrStore, err)
	}
	return err
}

// GetUserByName retrieves an account record. A missing key surfaces as
// ErrUnknownAccount so callers never see storage internals.
func (u UserRepository) GetUserByName(name string) (User, error) {
	var record User

	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userKey(name)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})

	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUnknownAccount
	}
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", errors.ErrStore, err)
	}
	return record, nil
}

func userKey(name string) string {
	return "user:" + name
}
