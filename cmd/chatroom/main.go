package main

import "github.com/O1sInfo/chatroom/internal/cli"

func main() {
	cli.Execute()
}
