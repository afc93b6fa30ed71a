package domain

// Limits is one platform's static content-constraint row.
type Limits struct {
	Platform         Platform
	MaxChars         int
	MaxMedia         int
	RequiresMedia    bool
	AllowedMIMETypes []string
}
