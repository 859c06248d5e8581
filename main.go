package main

import (
	"flag"
	"fmt"
	"os"

	"BlockDB/bootstrap"
)

func main() {
	flag.Parse()
	fmt.Println("Starting BlockDB...")

	if ok, err := bootstrap.Run(); !ok {
		fmt.Println("Fatal:", err)
		os.Exit(1)
	}
}
