package main

import (
	_ "git.handmade.network/hmn/tutorials/src/admintools"
	_ "git.handmade.network/hmn/tutorials/src/migration"
	"git.handmade.network/hmn/tutorials/src/server"
)

func main() {
	server.TutorialsCommand.Execute()
}
