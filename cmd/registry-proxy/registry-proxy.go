package main

import "github.com/dependabot/registry-proxy/cmd/registry-proxy/internal/cmd"

func main() {
	cmd.Execute()
}
