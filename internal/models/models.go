// package models defines the persistent entities of the relay
package models

import (
	"fmt"
	"strings"
	"time"
)

// Model is implemented by every entity the store can commit or remove.
type Model interface {
	Identifier() string // Identifier returns the primary key, empty before the first insert
	Validate() error    // Validate checks required fields before a write
}

// User is a chat address that has joined a relay room.
type User struct {
	ID        string
	Sequence  int
	JID       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUser creates an unsaved [User] for jid.
func NewUser(jid string) *User {
	now := time.Now().UTC()
	return &User{JID: jid, CreatedAt: now, UpdatedAt: now}
}

func (u *User) Identifier() string { return u.ID }

func (u *User) Validate() error {
	if strings.TrimSpace(u.JID) == "" {
		return fmt.Errorf("user jid is required")
	}
	return nil
}

// AccountType is an auth scheme (Name) declared by a service tag (Tag).
type AccountType struct {
	ID        string
	Name      string
	Tag       string
	CreatedAt time.Time
}

// NewAccountType creates an unsaved [AccountType].
func NewAccountType(name, tag string) *AccountType {
	return &AccountType{Name: name, Tag: tag, CreatedAt: time.Now().UTC()}
}

func (t *AccountType) Identifier() string { return t.ID }

func (t *AccountType) Validate() error {
	if t.Name == "" || t.Tag == "" {
		return fmt.Errorf("account type name and tag are required")
	}
	return nil
}

// Service is a configured feed endpoint. Connection parameters live in configuration.
//
// Scheme and Tag are joined in from the service's [AccountType] on reads.
type Service struct {
	ID        string
	Sequence  int
	Name      string
	TypeID    string
	CreatedAt time.Time
	UpdatedAt time.Time

	Scheme string
	Tag    string
}

// NewService creates an unsaved [Service] of the given account type.
func NewService(name, typeID string) *Service {
	now := time.Now().UTC()
	return &Service{Name: name, TypeID: typeID, CreatedAt: now, UpdatedAt: now}
}

func (s *Service) Identifier() string { return s.ID }

func (s *Service) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if s.TypeID == "" {
		return fmt.Errorf("service %q has no account type", s.Name)
	}
	return nil
}

// Account binds a [User] to a [Service] with a credential pair and a polling cursor.
//
// JID, ServiceName, Scheme and Tag are read-only values joined in by the store.
type Account struct {
	ID        string
	Sequence  int
	UserID    string
	ServiceID string
	Key       string
	Secret    string
	State     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time

	JID         string
	ServiceName string
	Scheme      string
	Tag         string
}

// NewAccount creates an unsaved [Account] with empty credentials and the initial cursor.
func NewAccount(userID, serviceID string) *Account {
	now := time.Now().UTC()
	return &Account{
		UserID:    userID,
		ServiceID: serviceID,
		State:     InitialCursor.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Account) Identifier() string { return a.ID }

func (a *Account) Validate() error {
	if a.UserID == "" || a.ServiceID == "" {
		return fmt.Errorf("account requires a user and a service")
	}
	return nil
}

// HasCredentials reports whether both halves of the credential pair are set.
//
// Accounts created by a lookup start without credentials and must not be used for API calls.
func (a *Account) HasCredentials() bool {
	return a.Key != "" && a.Secret != ""
}

// Cursor returns the parsed polling cursor.
func (a *Account) Cursor() Cursor {
	return ParseCursor(a.State)
}
