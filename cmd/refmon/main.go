// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/refmon/cmd/refmon/cmd"
)

func main() {
	cmd.Execute()
}
