package main

import (
	"context"
	"log"
	"os"

	"github.com/anchorageoss/devicehandle/cmd"
)

func main() {
	if err := cmd.NewApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
