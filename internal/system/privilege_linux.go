//go:build linux

package system

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"grimm.is/cloudnet/internal/logging"
)

// retainedCaps are the capabilities kept after the switch to the
// service user.
var retainedCaps = []int{unix.CAP_NET_ADMIN}

// ServiceUser resolves name to a uid/gid pair.
func ServiceUser(name string) (uid, gid int, err error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	uid, err = strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uid %q: %w", u.Uid, err)
	}
	gid, err = strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid gid %q: %w", u.Gid, err)
	}
	return uid, gid, nil
}

// DropPrivileges switches the process to uid/gid while keeping
// CAP_NET_ADMIN. It is a no-op unless running as root.
func DropPrivileges(uid, gid int) error {
	logger := logging.WithComponent("system")
	if os.Geteuid() != 0 {
		logger.Debug("not running as root, keeping current credentials")
		return nil
	}

	if err := prctl(unix.PR_SET_KEEPCAPS, 1, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_KEEPCAPS) failed: %w", err)
	}
	if err := syscall.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups failed: %w", err)
	}
	// GID before UID, while still privileged
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid failed: %w", err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid failed: %w", err)
	}
	if err := prctl(unix.PR_SET_KEEPCAPS, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_KEEPCAPS) reset failed: %w", err)
	}

	if err := capset(retainedCaps); err != nil {
		return fmt.Errorf("capset failed: %w", err)
	}
	for _, c := range retainedCaps {
		if err := prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_RAISE, uintptr(c)); err != nil {
			logger.Debug("ambient capability not raised", "cap", c, "error", err)
		}
	}

	logger.Info("dropped privileges", "uid", uid, "gid", gid)
	return nil
}

// prctl and capset act per thread, so they go through AllThreadsSyscall
// the way syscall.Setuid does. cgo binaries cannot use it and fall back to
// the calling thread.
func prctl(option int, arg2, arg3 uintptr) error {
	_, _, errno := syscall.AllThreadsSyscall6(unix.SYS_PRCTL, uintptr(option), arg2, arg3, 0, 0, 0)
	if errno == syscall.ENOTSUP {
		return unix.Prctl(option, arg2, arg3, 0, 0)
	}
	if errno != 0 {
		return errno
	}
	return nil
}

func capset(caps []int) error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	for _, c := range caps {
		word, bit := c/32, uint32(1)<<(uint(c)%32)
		data[word].Effective |= bit
		data[word].Permitted |= bit
		data[word].Inheritable |= bit
	}
	_, _, errno := syscall.AllThreadsSyscall(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(&hdr)), uintptr(unsafe.Pointer(&data[0])), 0)
	if errno == syscall.ENOTSUP {
		return unix.Capset(&hdr, &data[0])
	}
	if errno != 0 {
		return errno
	}
	return nil
}
