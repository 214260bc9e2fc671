// Package ustr implements the immutable path/string value the file tree and
// syscall dispatcher pass around, in the style of biscuit's ustr package.
package ustr

import "golang.org/x/text/unicode/norm"

// Ustr represents an immutable path or string used by the kernel.
type Ustr []uint8

// Isdot reports whether the string equals '.'.
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string equals '..'.
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values for equality after Unicode normalization, so
// a filename written as NFD compares equal to its NFC form. Plain ASCII
// path components (the overwhelming common case) pass through norm.NFC
// unchanged, so this costs nothing beyond a byte-equal fast path.
func (us Ustr) Eq(s Ustr) bool {
	if bytesEqual(us, s) {
		return true
	}
	return bytesEqual(norm.NFC.Bytes(us), norm.NFC.Bytes(s))
}

func bytesEqual(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrDot returns a Ustr representing '.'.
func MkUstrDot() Ustr {
	return Ustr(".")
}

// MkUstrRoot returns a Ustr for the root directory '/'.
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice converts a NUL-terminated byte slice to a Ustr, as copied out
// of user memory by the syscall layer.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// Extend appends '/' and p to the current Ustr and returns the result.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

// ExtendStr appends '/' and the string p to the current Ustr.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// IndexByte returns the index of b in the string or -1 if not present.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}

// Split breaks an absolute or relative path into its '/'-separated
// components, dropping empty components produced by repeated slashes.
func (us Ustr) Split() []Ustr {
	var parts []Ustr
	start := 0
	for i := 0; i <= len(us); i++ {
		if i == len(us) || us[i] == '/' {
			if i > start {
				parts = append(parts, us[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
