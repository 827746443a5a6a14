package main

import "github.com/cartella-shop/cartella/internal/cli"

func main() {
	cli.Execute()
}
