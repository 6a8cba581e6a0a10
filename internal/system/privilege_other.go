//go:build !linux

package system

import "errors"

// ServiceUser is only supported on Linux.
func ServiceUser(name string) (uid, gid int, err error) {
	return 0, 0, errors.New("service user lookup not supported on this platform")
}

// DropPrivileges is a no-op off Linux.
func DropPrivileges(uid, gid int) error {
	return nil
}
