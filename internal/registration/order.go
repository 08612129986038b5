package registration

import (
	"slices"

	"github.com/dhpke/nmos-core/internal/resource"
)

func sortByRank(rs []resource.Resource) {
	slices.SortStableFunc(rs, func(a, b resource.Resource) int {
		return a.Kind().Rank() - b.Kind().Rank()
	})
}
