package vfsops

import "syscall"

// Errno values FileSystem implementations return most often, re-exported
// here so callers don't need a direct syscall import (spec §7
// "Semantic" errors "passed through unchanged").
const (
	EIO       = syscall.EIO
	ENOENT    = syscall.ENOENT
	ENOSYS    = syscall.ENOSYS
	ENOTEMPTY = syscall.ENOTEMPTY
	EEXIST    = syscall.EEXIST
	EPERM     = syscall.EPERM
	ENOATTR   = syscall.ENODATA
	EINVAL    = syscall.EINVAL
)
