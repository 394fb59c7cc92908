package utils

import (
	"math/rand"
	"sync"
	"time"
)

var (
	lock    = sync.Mutex{}
	randStr = rand.New(rand.NewSource(time.Now().Unix()))
	letters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
)

// RandomValue generate random value, for test purpose only.
func RandomValue(n int) []byte {
	b := make([]byte, n)
	lock.Lock()
	for i := range b {
		b[i] = letters[randStr.Intn(len(letters))]
	}
	lock.Unlock()
	return b
}
