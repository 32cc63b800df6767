package ndkports

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// interactiveMu ensures only one prompt reads stdin at a time.
var interactiveMu sync.Mutex

// promptInput is swapped in tests.
var promptInput io.Reader = os.Stdin

func askForConfirmation(p colorPrinter, format string, a ...any) bool {
	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	reader := bufio.NewReader(promptInput)
	fullPrompt := fmt.Sprintf("%s [Y/n]: ", fmt.Sprintf(format, a...))

	for {
		cPrintf(p, "%s", fullPrompt)
		response, err := reader.ReadString('\n')
		if err != nil && response == "" {
			return false // EOF (Ctrl+D) means no
		}
		response = strings.ToLower(strings.TrimSpace(response))

		if response == "y" || response == "yes" || response == "" {
			return true
		}
		if response == "n" || response == "no" {
			return false
		}
		if err != nil {
			return false
		}
		cPrintln(colWarn, "Invalid input.")
	}
}
