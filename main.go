package main

import (
	"github.com/joho/godotenv"

	"gitlab.com/gridshare/gpu-cloud-service/cmd"
)

func main() {
	// Secrets such as the OAuth client and JWT key may come from a .env
	// file in development; a missing file is not an error.
	godotenv.Load()

	cmd.Execute()
}
