// riposte — decision-and-execution engine for automated incident response.
package main

import "github.com/soarhq/riposte/internal/cli"

func main() {
	cli.Execute()
}
