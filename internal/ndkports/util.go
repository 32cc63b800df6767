package ndkports

import "fmt"

// colorPrinter is what the col* styles in globals.go have in common.
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf writes a styled message to stdout. A nil style prints plain text.
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// cPrintln is cPrintf for whole lines.
func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// printStep announces a pipeline step as "-> message".
func printStep(format string, a ...any) {
	colArrow.Print("-> ")
	colSuccess.Printf(format, a...)
}

// debugf is for extraction and build chatter that only -debug shows.
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}
