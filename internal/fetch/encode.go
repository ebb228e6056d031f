package fetch

import "strings"

// allowedURIChars 是在 RFC 3986 unreserved 之外不需要转义的字符，
// 已转义的 "%XX" 因 '%' 在集合内而保持原样。
const allowedURIChars = "@#&=*+-_.,:!?()/~'%"

const hexDigits = "0123456789ABCDEF"

// EncodeURI percent-encodes every byte of raw that is neither unreserved
// (A-Z a-z 0-9 _ - ! . ~ ' ( ) *) nor in allowedURIChars.
func EncodeURI(raw string) string {
	var (
		b       strings.Builder
		escaped bool
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if isAllowedURIByte(c) {
			if escaped {
				b.WriteByte(c)
			}
			continue
		}
		if !escaped {
			b.Grow(len(raw) + 16)
			b.WriteString(raw[:i])
			escaped = true
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	if !escaped {
		return raw
	}
	return b.String()
}

func isAllowedURIByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case strings.IndexByte("_-!.~'()*", c) >= 0:
		return true
	}
	return strings.IndexByte(allowedURIChars, c) >= 0
}
