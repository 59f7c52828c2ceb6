package namegen

import (
	"fmt"

	vendor "github.com/anandvarma/namegen"
	"github.com/samber/lo"
)

var gen = vendor.New()

// SuffixLength is the length of the random part of an instance name.
const SuffixLength = 5

var suffixCharset = append(append([]rune{}, lo.UpperCaseLettersCharset...), lo.NumbersCharset...)

type ID string

// Get returns a memorable name, used to identify an agent in logs.
func Get() ID {
	return ID(gen.Get())
}

func (id ID) String() string {
	return string(id)
}

// Suffix returns n random characters out of [A-Z0-9].
func Suffix(n int) string {
	return lo.RandomString(n, suffixCharset)
}

// Instance names an instance belonging to the given workload.
func Instance(workload string) string {
	return fmt.Sprintf("%s-%s", workload, Suffix(SuffixLength))
}
