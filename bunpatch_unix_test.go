//go:build unix

package bunpatch

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/meigma/bunpatch/internal/fileops"
)

// Not parallel: swaps the package-level writer.
func TestRepackLockedTargetIsBusy(t *testing.T) {
	saved := writeFile
	t.Cleanup(func() { writeFile = saved })
	writeFile = func(target string, _ []byte, _ fileops.WriteOptions) error {
		return fileops.ReplaceError(target, &os.LinkError{
			Op:  "rename",
			Old: target + ".tmp",
			New: target,
			Err: unix.EPERM,
		})
	}

	path := writeImage(t, FormatELF, fixturePayload(t, defaultPayload()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = Repack(context.Background(), path, []byte("patched();"), "", WithSigner(nil))
	require.ErrorIs(t, err, ErrFileBusy)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
