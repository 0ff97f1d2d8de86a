package main

import (
	"github.com/teranos/staffsync/cmd/staffsync/commands"
)

func main() {
	commands.Execute()
}
