// Command flowrunner drives agent workflows over a gateway connection.
package main

func main() {
	Execute()
}
