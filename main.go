package main

import (
	"github.com/joho/godotenv"

	"vpn-access-bot/cmd"
)

func main() {
	godotenv.Load()
	cmd.Execute()
}
