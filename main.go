package main

import "github.com/Norgate-AV/csx/cmd"

func main() {
	cmd.Execute()
}
