package protocol

import "strings"

var (
	escaper   = strings.NewReplacer("&", "&a", "\n", "&n", "\r", "&r")
	unescaper = strings.NewReplacer("&n", "\n", "&r", "\r", "&a", "&")
)

// Escape makes s safe to carry on a single protocol line.
func Escape(s string) string {
	return escaper.Replace(s)
}

func Unescape(s string) string {
	return unescaper.Replace(s)
}
