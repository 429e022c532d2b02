package notes

import "github.com/google/uuid"

// uuidProvider issues UUIDv7 note identifiers; the time-ordered prefix keeps
// freshly created rows adjacent in the primary key index.
type uuidProvider struct{}

// NewUUIDProvider constructs the default IDProvider.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
