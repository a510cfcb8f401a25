package version

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Build metadata, set with
// -ldflags "-X github.com/reelpick/internal/version.Version=v1.2.3 -X github.com/reelpick/internal/version.Commit=abc1234".
var (
	Version = "dev"
	Commit  = ""
)

// String is the version plus the short commit when one was stamped in.
func String() string {
	if Commit == "" {
		return Version
	}
	c := Commit
	if len(c) > 7 {
		c = c[:7]
	}
	return Version + " (" + c + ")"
}

const (
	separator = "────────────────────────────────────────────────────────────"
	banner    = `
                 _       _      _
  _ __ ___  ___| |_ __ (_) ___| | __
 | '__/ _ \/ _ \ | '_ \| |/ __| |/ /
 | | |  __/  __/ | |_) | | (__|   <
 |_|  \___|\___|_| .__/|_|\___|_|\_\
                 |_|
`
)

// Banner returns the ASCII-art project banner.
func Banner() string {
	return strings.Trim(banner, "\n")
}

// PrintBanner writes the decorated banner and version info to w (stdout if nil).
func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, Banner())
	fmt.Fprintf(w, "\n  reelpick %s\n", String())
	fmt.Fprintf(w, "  Watch Tracker & Recommendation Relay\n")
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w)
}
