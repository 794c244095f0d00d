package xid

import "github.com/google/uuid"

// New returns "<prefix>-<uuid>". The prefix only helps a human reading logs.
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
