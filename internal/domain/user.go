package domain

import "time"

// User is a managed brokerage account holder. Passwords are stored only as
// ciphertext under the process encryption key.
type User struct {
	ID                int64
	Email             string
	EncryptedPassword string
	BrokerID          string
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
