package metrics

import "syscall"

var errnoNames = map[syscall.Errno]string{
	syscall.ENOENT:    "ENOENT",
	syscall.EEXIST:    "EEXIST",
	syscall.EISDIR:    "EISDIR",
	syscall.ENOTDIR:   "ENOTDIR",
	syscall.ENOTEMPTY: "ENOTEMPTY",
	syscall.EIO:       "EIO",
	syscall.EINVAL:    "EINVAL",
	syscall.EBADF:     "EBADF",
	syscall.EROFS:     "EROFS",
	syscall.EXDEV:     "EXDEV",
	syscall.EINTR:     "EINTR",
	syscall.EACCES:    "EACCES",
	syscall.EFBIG:     "EFBIG",
}
