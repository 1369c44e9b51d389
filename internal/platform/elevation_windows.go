//go:build windows
// +build windows

package platform

import "golang.org/x/sys/windows"

// Elevated reports whether the process token is elevated (run as
// Administrator).
func Elevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
