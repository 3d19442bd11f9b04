package main

import "github.com/JakeFAU/page-annotator/cmd"

func main() {
	cmd.Execute()
}
