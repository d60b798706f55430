package learning

import (
	"crypto/rand"
	"math/big"

	"github.com/samber/lo"

	"abcadventure/internal/catalog"
)

// CalculateProgress returns the share of the alphabet learned, in percent.
func CalculateProgress(learned int) float64 {
	return 100 * float64(learned) / float64(catalog.Size)
}

// PickNext chooses uniformly among letters not in learned, or among the
// whole alphabet when nothing is left.
func PickNext(learned map[string]struct{}, pick func(n int) int) string {
	letters := catalog.Letters()
	unlearned := lo.Filter(letters, func(l string, _ int) bool {
		_, ok := learned[l]
		return !ok
	})
	if len(unlearned) == 0 {
		unlearned = letters
	}
	i := pick(len(unlearned))
	if i < 0 || i >= len(unlearned) {
		i = 0
	}
	return unlearned[i]
}

func cryptoIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
