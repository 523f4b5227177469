package response

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// User code types a client can select with UserCodeType.
const (
	UserCodeTypeBase20  = "Base20"
	UserCodeTypeNumeric = "Numeric"
)

// Base20Alphabet has no vowels, so codes cannot spell words.
const Base20Alphabet = "BCDFGHJKLMNPQRSTVWXZ"

// DefaultUserCodeRetryLimit applies when a generator is created with a limit of zero.
const DefaultUserCodeRetryLimit = 10

// UserCodeGenerator produces the short codes users type on the verification page.
type UserCodeGenerator interface {
	UserCodeType() string
	// RetryLimit is how many codes are tried before the code space counts as exhausted.
	RetryLimit() int
	Generate() (string, error)
}

// AlphabetUserCodeGenerator draws characters from an alphabet and groups them with dashes.
type AlphabetUserCodeGenerator struct {
	codeType   string
	alphabet   string
	length     int
	groupSize  int
	retryLimit int
}

// NewBase20UserCodeGenerator creates the default generator: eight consonants in two groups
// of four, like "BCDF-GHJK".
func NewBase20UserCodeGenerator(retryLimit int) *AlphabetUserCodeGenerator {
	return NewAlphabetUserCodeGenerator(UserCodeTypeBase20, Base20Alphabet, 8, 4, retryLimit)
}

// NewNumericUserCodeGenerator creates a nine digit generator without dashes.
func NewNumericUserCodeGenerator(retryLimit int) *AlphabetUserCodeGenerator {
	return NewAlphabetUserCodeGenerator(UserCodeTypeNumeric, "0123456789", 9, 0, retryLimit)
}

// NewAlphabetUserCodeGenerator creates a generator over any alphabet. A groupSize of zero
// disables dashes.
func NewAlphabetUserCodeGenerator(codeType, alphabet string, length, groupSize, retryLimit int) *AlphabetUserCodeGenerator {
	if retryLimit <= 0 {
		retryLimit = DefaultUserCodeRetryLimit
	}
	return &AlphabetUserCodeGenerator{
		codeType:   codeType,
		alphabet:   alphabet,
		length:     length,
		groupSize:  groupSize,
		retryLimit: retryLimit,
	}
}

func (g *AlphabetUserCodeGenerator) UserCodeType() string { return g.codeType }

func (g *AlphabetUserCodeGenerator) RetryLimit() int { return g.retryLimit }

func (g *AlphabetUserCodeGenerator) Generate() (string, error) {
	var b strings.Builder
	size := big.NewInt(int64(len(g.alphabet)))
	for i := 0; i < g.length; i++ {
		if g.groupSize > 0 && i > 0 && i%g.groupSize == 0 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(g.alphabet[n.Int64()])
	}
	return b.String(), nil
}
