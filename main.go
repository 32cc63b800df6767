package main

import "ndkports/internal/ndkports"

func main() {
	ndkports.Main()
}
