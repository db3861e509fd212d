// Package event defines the Event, the unit of everything a node does.
//
// There are three kinds of events: Tweet, Block and Unblock. Blocking is not a
// separate control channel; a Block is an event in the origin's stream like
// any tweet, so it is ordered against the origin's tweets by the same causal
// delivery rule.
package event
