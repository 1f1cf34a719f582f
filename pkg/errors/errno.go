package errors

import (
	"context"
	"errors"
	"syscall"
)

var errnoByCode = map[ErrorCode]syscall.Errno{
	ErrCodeNotFound:          syscall.ENOENT,
	ErrCodeAlreadyExists:     syscall.EEXIST,
	ErrCodeIsADirectory:      syscall.EISDIR,
	ErrCodeNotADirectory:     syscall.ENOTDIR,
	ErrCodeNotEmpty:          syscall.ENOTEMPTY,
	ErrCodeInvalidPath:       syscall.EINVAL,
	ErrCodeInvalidArgument:   syscall.EINVAL,
	ErrCodeBadHandle:         syscall.EBADF,
	ErrCodeReadOnly:          syscall.EROFS,
	ErrCodeCrossDevice:       syscall.EXDEV,
	ErrCodeFileTooLarge:      syscall.EFBIG,
	ErrCodeOperationCanceled: syscall.EINTR,
	ErrCodeIOError:           syscall.EIO,
	ErrCodeOperationTimeout:  syscall.EIO,
	ErrCodeCircuitOpen:       syscall.EIO,
}

// ToErrno maps an error to the errno reported to the kernel. A nil error maps
// to 0; anything without a known code maps to EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var lerr *LevelFSError
	if errors.As(err, &lerr) {
		if errno, ok := errnoByCode[lerr.Code]; ok {
			return errno
		}
		return syscall.EIO
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	if errors.Is(err, context.Canceled) {
		return syscall.EINTR
	}
	return syscall.EIO
}

// Constructors for the per-request error kinds.

func NotFound(what string) *LevelFSError {
	return NewError(ErrCodeNotFound, what+" not found")
}

func AlreadyExists(what string) *LevelFSError {
	return NewError(ErrCodeAlreadyExists, what+" already exists")
}

func IsADirectory(what string) *LevelFSError {
	return NewError(ErrCodeIsADirectory, what+" is a directory")
}

func NotADirectory(what string) *LevelFSError {
	return NewError(ErrCodeNotADirectory, what+" is not a directory")
}

func NotEmpty(what string) *LevelFSError {
	return NewError(ErrCodeNotEmpty, what+" is not empty")
}

func InvalidPath(path, reason string) *LevelFSError {
	return NewError(ErrCodeInvalidPath, reason).WithContext("path", path)
}

func IOError(cause error, message string) *LevelFSError {
	return NewError(ErrCodeIOError, message).WithCause(cause)
}
