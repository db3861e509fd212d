// Package peers implements the node directory.
//
// Every node of the simulation is listed in a static CSV file with one
// "name, address, port" row per node. The order of the rows matters: it
// assigns each node its ID, which is also its row and column in the matrix
// clock, so all the nodes of a simulation must share the same file.
//
// On top of the static list, the Directory keeps a NodeState per node with the
// set of names it follows and the set of names it has blocked. The follow sets
// are fixed at startup (everybody follows everybody); the block sets change as
// Block and Unblock events are delivered.
package peers
