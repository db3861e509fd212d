// Package shell is the interactive console of a chirp node.
//
// Commands are matched exactly: Tweet, Block, Unblock, View, Log, Matrix and
// Help. Tweet, Block and Unblock take their argument on the same line or
// prompt for it.
package shell
