// Command foreman coordinates a roster of worker processes: it queues
// tasks, assigns them to workers and supervises the processes doing the work.
package main

func main() {
	Execute()
}
