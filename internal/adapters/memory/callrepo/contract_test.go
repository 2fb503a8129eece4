package callrepo

import (
	"testing"

	"github.com/wildpath-tours/call-scheduler-api/internal/adapters/contracttest"
	callrepoport "github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
)

func TestContract_MemoryCallRepo(t *testing.T) {
	t.Parallel()

	contracttest.RunCallRepo(t, func(t *testing.T) (callrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(), nil
	})
}
