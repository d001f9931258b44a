// 对syscall的封装
package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// 封装mmap，将文件映射到用户态内存中，可以直接在返回的[]byte上使用
//
//	void *mmap(void *addr, size_t length, int prot, int flags, int fd, off_t offset);
func mmap(fd *os.File, writable bool, size int64) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	// 调用unix.Mmap，指定fid、size、从文件头开始、权限和flag为MAP_SHARED(内存数据同步到磁盘)
	return unix.Mmap(int(fd.Fd()), 0, int(size), prot, unix.MAP_SHARED)
}

// 封装munmap，用于解除映射关系
// int munmap(void *addr, size_t length);
func munmap(data []byte) error {
	if len(data) == 0 || len(data) != cap(data) {
		return unix.EINVAL
	}
	_, _, err := unix.Syscall(unix.SYS_MUNMAP,
		uintptr((unsafe.Pointer(&data[0]))),
		uintptr((len(data))),
		0,
	)
	if err != 0 {
		return err
	}
	return nil
}
