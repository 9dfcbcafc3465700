//go:build !unix && !windows

package fileops

func isBusy(error) bool {
	return false
}
