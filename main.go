// Command bookmeta looks up book metadata and covers on databazeknih.cz.
package main

import "github.com/JakeFAU/bookmeta/cmd"

func main() {
	cmd.Execute()
}
