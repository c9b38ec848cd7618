// The main package for the noticepoller executable.
package main

import (
	"github.com/ajou-notice/noticepoller/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
