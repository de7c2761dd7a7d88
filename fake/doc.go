// Package fake provides test doubles for the reactor layer.
package fake
