package ports_test

import (
	"testing"

	mocks "github.com/nwatch/neighborwatch/internal/mocks/auth"
	"github.com/nwatch/neighborwatch/internal/ports"
)

// This test only verifies that our mocks conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.AuthProvider = (*mocks.MockAuthProvider)(nil)
	var _ ports.SessionStore = (*mocks.MemorySessionStore)(nil)
	var _ ports.IdentityProvider = (*mocks.ManualIdentity)(nil)
	var _ ports.RecordStore = (*mocks.MemoryRecordStore)(nil)
	var _ ports.SessionCache = (*mocks.MemorySessionCache)(nil)
}
