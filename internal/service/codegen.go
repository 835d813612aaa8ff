package service

import (
	"crypto/rand"
	"math/big"
)

// CodeGenerator produces human-enterable pairing codes. It is a pure
// function of the random source; uniqueness among live codes is the
// registry's responsibility.
type CodeGenerator struct {
	alphabet []byte
	length   int
}

func NewCodeGenerator(alphabet string, length int) *CodeGenerator {
	return &CodeGenerator{
		alphabet: []byte(alphabet),
		length:   length,
	}
}

func (g *CodeGenerator) Generate() string {
	code := make([]byte, g.length)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(g.alphabet))))
		code[i] = g.alphabet[n.Int64()]
	}
	return string(code)
}

func (g *CodeGenerator) Length() int {
	return g.length
}
