package main

import (
	"github.com/nguyentranbao-ct/chat-sync/cmd"
)

func main() {
	cmd.Execute()
}
