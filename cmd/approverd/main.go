package main

import (
	"log"

	"evlvault/cmd/internal/passphrase"
	"evlvault/services/approverd"
)

func main() {
	resolve := func(envVar string) func() (string, error) {
		return passphrase.NewSource(envVar).Get
	}
	if err := approverd.Main(resolve); err != nil {
		log.Fatalf("approverd: %v", err)
	}
}
