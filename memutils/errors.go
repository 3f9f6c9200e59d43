package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// CorruptionError is returned by arena validation when the guard bytes placed between reservations
// have been overwritten
var CorruptionError error = errors.New("memory corruption detected between reservations")
