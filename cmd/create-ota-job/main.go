package main

import "github.com/oshokin/create-ota-job/cmd/create-ota-job/cmd"

func main() {
	cmd.Execute()
}
