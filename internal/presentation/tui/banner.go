package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs an ASCII art banner with the engine version.
func PrintBanner(version string) {
	p := termenv.ColorProfile()
	// Warm ember gradient
	s1 := termenv.String(" _    _ _       ").Foreground(p.Color("#fbbf24"))
	s2 := termenv.String("| | _(_) |_ __  ").Foreground(p.Color("#f59e0b"))
	s3 := termenv.String("| |/ / | | '_ \\ ").Foreground(p.Color("#f97316"))
	s4 := termenv.String("|   <| | | | | |").Foreground(p.Color("#ea580c"))
	s5 := termenv.String("|_|\\_\\_|_|_| |_|").Foreground(p.Color("#dc2626"))
	ver := termenv.String("v" + version).Foreground(p.Color("#9ca3af"))

	fmt.Println()
	fmt.Println(s1)
	fmt.Println(s2)
	fmt.Println(s3)
	fmt.Println(s4)
	fmt.Println(s5, " ", ver)
	fmt.Println()
}
