package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// readReason returns flagValue when set. Otherwise, when in is a terminal,
// it asks for a reason on out; an empty answer is allowed.
func readReason(flagValue string, flagSet bool, in io.Reader, out io.Writer) string {
	if flagSet {
		return flagValue
	}
	f, ok := in.(*os.File)
	if !ok || !isTerminal(f) {
		return ""
	}

	fmt.Fprint(out, "Reason (optional): ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}
