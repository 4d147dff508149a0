package cmd

import (
	"fmt"
)

const banner = `
  ____  _                  _         _   _
 | __ )| | ___   __ _     / \  _   _| |_| |__
 |  _ \| |/ _ \ / _` + "`" + ` |   / _ \| | | | __| '_ \
 | |_) | | (_) | (_| |  / ___ \ |_| | |_| | | |
 |____/|_|\___/ \__, | /_/   \_\__,_|\__|_| |_|
                |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Blog Authentication Service - Version %s\x1b[0m\n\n", Version)
}
