package memory

import (
	"testing"

	"github.com/vouch-auth/vouch/store"
)

func TestMemoryStore(t *testing.T) {
	store.Test(t, New())
}
