//go:build windows

package storage

import (
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

func createdAt(path string) (time.Time, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return time.Time{}, err
	}
	var data windows.Win32FileAttributeData
	if err := windows.GetFileAttributesEx(p, windows.GetFileExInfoStandard, (*byte)(unsafe.Pointer(&data))); err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, data.CreationTime.Nanoseconds()), nil
}
