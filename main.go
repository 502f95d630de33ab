// ./main.go
package main

import (
	"github.com/djbob2000/linked-clicker-sub000/cmd"
)

func main() {
	cmd.Execute()
}
