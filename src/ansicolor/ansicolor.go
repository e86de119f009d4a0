// Package ansicolor holds the terminal escape codes used by the pretty log
// writer and the admin commands.
package ansicolor

import "runtime"

var (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Faint = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Gray   = "\033[37m"

	BgRed    = "\033[41m"
	BgYellow = "\033[43m"
	BgBlue   = "\033[44m"
)

func init() {
	if runtime.GOOS == "windows" {
		Reset, Bold, Faint = "", "", ""
		Red, Green, Yellow, Blue, Gray = "", "", "", "", ""
		BgRed, BgYellow, BgBlue = "", "", ""
	}
}
