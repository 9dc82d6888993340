package main

import (
	"log"

	"fasttrack/internal/app"
)

func main() {
	a, err := app.NewApp()
	if err != nil {
		log.Fatalln(err)
	}

	a.Run()
}
