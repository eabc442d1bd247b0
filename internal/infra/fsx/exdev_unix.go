//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

// isEXDEV 同时覆盖裸 errno 与 *os.LinkError 包装（errors.Is 会沿 Unwrap 链查找）。
func isEXDEV(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
