// Edgegate is the request-admission gateway that sits in front of the
// invitation app.
//
// Usage:
//
//	# Start the gateway (the default command)
//	edgegate serve
//
//	# Print the effective policy table
//	edgegate policies --file policies.yaml
//
//	# Apply audit schema migrations
//	edgegate migrate up
package main

func main() {
	Execute()
}
