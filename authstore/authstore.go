// Package authstore is the durable user store backing the register/login
// endpoints (spec §6.2). Non-goals exclude user profile management beyond
// what token issuance requires, so this is deliberately minimal: one table,
// credential verification, nothing else — grounded on this codebase's
// gorm-backed persistence pattern (llm/apikey_pool.go, llm/db_init.go).
package authstore

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrEmailTaken is returned by Register when the email is already in use.
var ErrEmailTaken = errors.New("email already registered")

// ErrInvalidCredentials is returned by Authenticate on any mismatch — never
// distinguish "no such user" from "wrong password" to a caller.
var ErrInvalidCredentials = errors.New("invalid email or password")

// UserAccount is the one table this package owns.
type UserAccount struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
}

func (UserAccount) TableName() string { return "user_accounts" }

// Store wraps a *gorm.DB for account registration and credential checks.
type Store struct {
	db *gorm.DB
}

// New builds a Store and runs its migration.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&UserAccount{}); err != nil {
		return nil, fmt.Errorf("auto migrate user_accounts: %w", err)
	}
	return &Store{db: db}, nil
}

// Register hashes password with bcrypt and creates a new account. id is
// caller-supplied (a UUID, typically) so the caller can mint the first
// AuthToken without a second round trip.
func (s *Store) Register(ctx context.Context, id, email, password string) (UserAccount, error) {
	var existing UserAccount
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	switch {
	case err == nil:
		return UserAccount{}, ErrEmailTaken
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return UserAccount{}, fmt.Errorf("check existing account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return UserAccount{}, fmt.Errorf("hash password: %w", err)
	}

	account := UserAccount{ID: id, Email: email, PasswordHash: string(hash)}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return UserAccount{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// Authenticate verifies email/password and returns the matching account.
func (s *Store) Authenticate(ctx context.Context, email, password string) (UserAccount, error) {
	var account UserAccount
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserAccount{}, ErrInvalidCredentials
		}
		return UserAccount{}, fmt.Errorf("load account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return UserAccount{}, ErrInvalidCredentials
	}
	return account, nil
}
