package main

import "github.com/sgoadhouse/xvcd-server/cmd/xvcd/cmd"

func main() {
	cmd.Execute()
}
