package domain

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Identity is the authenticated caller as provided by the auth collaborator.
type Identity struct {
	UserID string
	Email  string
	Name   string
	Role   Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// UploadCredential lets a client POST a model straight to object storage.
type UploadCredential struct {
	URL       string            `json:"url"`
	Fields    map[string]string `json:"fields"`
	Signature string            `json:"signature"`
	Timestamp int64             `json:"timestamp"`
	Folder    string            `json:"folder"`
	Key       string            `json:"key"`
	Bucket    string            `json:"bucket"`
	AccessID  string            `json:"accessId"`
	MaxBytes  int64             `json:"maxBytes"`
	ExpiresAt time.Time         `json:"expiresAt"`
}
