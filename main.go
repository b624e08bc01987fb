package main

import "github.com/ngld/sitebuild/cmd"

func main() {
	cmd.Execute()
}
