package models

type Permission struct {
	ID       string `json:"id"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName"`
	Permissions []Permission `json:"permissions"`
}

type User struct {
	ID          string       `json:"id"`
	Username    string       `json:"username,omitempty"`
	Email       string       `json:"email"`
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	FullName    string       `json:"fullName"`
	Phone       string       `json:"phone,omitempty"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
	IsActive    bool         `json:"isActive"`
	StoreCode   string       `json:"storeCode,omitempty"`
	LastLoginAt string       `json:"lastLoginAt,omitempty"`
}
