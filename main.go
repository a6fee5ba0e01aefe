package main

import "reviewclassifier/internal/app"

func main() {
	app.Main()
}
