// Command kfsctl inspects Multiboot memory-map dumps and runs the kernel's
// physical memory manager over them in user space.
package main

func main() {
	execute()
}
