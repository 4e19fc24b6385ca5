//go:build windows

package runlock

import "os"

// processAlive reports whether a process with the given pid exists. Windows
// has no signal 0; FindProcess performs the existence check itself.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
