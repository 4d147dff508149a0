package main

import "github.com/blogsuite/blogauth/cmd/blogauth/cmd"

func main() {
	cmd.Execute()
}
