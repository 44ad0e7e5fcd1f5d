package model

// UserInfo carries the account context returned by the platform's user-info
// endpoint during gtoken derivation. Language and Country are echoed back to
// the platform on later exchanges; ID identifies the account to the signing
// service.
type UserInfo struct {
	ID       string
	Nickname string
	Language string
	Country  string
	Birthday string
}
