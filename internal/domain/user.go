package domain

// User is a provisioned gateway user. Email is the unique key and is compared
// byte for byte; no case folding is applied anywhere.
type User struct {
	Email     string
	IsAdmin   bool
	CreatedAt string
	UpdatedAt string
}

// Identity is the verified subject of a bearer token. IsAdmin reflects the
// admin flag at issuance time and may be stale; the user store is the source
// of truth for live privilege.
type Identity struct {
	Email   string
	IsAdmin bool
}
