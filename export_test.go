package fileGate

import "github.com/MrEthical07/fileGate/password"

// SetHasher swaps the engine's password hasher.
func SetHasher(e *Engine, h password.Hasher) {
	e.hasher = h
}
