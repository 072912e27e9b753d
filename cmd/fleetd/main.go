package main

import (
	"context"
	"log"

	"github.com/devskyy/mcpfleet/internal/app"
)

func main() {
	if err := app.Run(context.Background()); err != nil {
		log.Fatal(err)
	}
}
