package models

// User is the public profile of an account holder
type User struct {
	AccountID   string `json:"accountId" example:"4821093375"`     // Account ID, used as transfer recipient
	Email       string `json:"email" example:"user@example.com"`  // User email
	DisplayName string `json:"displayName" example:"Jane Doe"`     // Name shown to counterparties
}

// Credentials is what the store keeps for login
type Credentials struct {
	AccountID    string
	PasswordHash string
}
