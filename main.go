package main

import "lumavet.pet/lumavet/cmd"

func main() {
	cmd.Execute()
}
