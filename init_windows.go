//go:build windows

package main

import "syscall"

const utf8CodePage = 65001

func init() {
	// Replies and prompts carry UTF-8; switch both console directions to it
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	kernel32.NewProc("SetConsoleOutputCP").Call(uintptr(utf8CodePage))
	kernel32.NewProc("SetConsoleCP").Call(uintptr(utf8CodePage))
}
