package main

import (
	"log"

	"ubirescue/cmd/ubr/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
