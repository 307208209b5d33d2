package engine

import "github.com/google/uuid"

// TxIDGenerator names transactions in commit events and the journal.
type TxIDGenerator interface {
	Generate() string
}

// UUIDv7Generator is the default TxIDGenerator. UUIDv7 ids lead with a
// millisecond timestamp, so `tablet log` output sorts by id the same way
// it sorts by commit.
type UUIDv7Generator struct{}

// Generate panics only if the system's random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ModuleIdentity is the caller identity scheduled reducers run as. It is
// derived from the module name so it survives restarts.
func ModuleIdentity(module string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tablet:module:"+module))
}
