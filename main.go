package main

import "jamsession/looper/cmd"

func main() {
	cmd.Execute()
}
