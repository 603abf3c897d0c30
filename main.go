package main

import (
	"github.com/thehub/uuidshift/cmd"
)

func main() {
	cmd.Execute()
}
