// Command mordax boots the Mordax microkernel on a simulated board.
package main

func main() {
	execute()
}
